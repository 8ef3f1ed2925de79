package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"MusicToVideo-server/config"
	"MusicToVideo-server/models"
	"MusicToVideo-server/scheduler"
	"MusicToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type characterRefReq struct {
	Name     string  `json:"name"`
	ImageUrl string  `json:"image_url"`
	Weight   float64 `json:"weight"`
}

// 创建项目：根据音乐时长排定场景表，建任务并入队执行
func CreateProject(c *gin.Context) {
	var req struct {
		Title         string            `json:"title"`
		Style         string            `json:"style"`
		MusicUrl      string            `json:"music_url"`
		MusicDuration float64           `json:"music_duration"`
		Narration     bool              `json:"narration"`
		SceneMin      float64           `json:"scene_min"`
		SceneMax      float64           `json:"scene_max"`
		Scripts       []string          `json:"scripts"`
		References    []characterRefReq `json:"references"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MusicUrl == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "music_url is required"})
		return
	}

	band := scheduler.Band{Min: req.SceneMin, Max: req.SceneMax}
	if band.Min <= 0 {
		band.Min = config.AppConfig.Pipeline.SceneMinSeconds
	}
	if band.Max <= 0 {
		band.Max = config.AppConfig.Pipeline.SceneMaxSeconds
	}

	// 先排场景表，输入非法时不落任何数据
	slots, err := scheduler.Plan(req.MusicDuration, band)
	if err != nil {
		var ide *scheduler.InvalidDurationError
		if errors.As(err, &ide) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	project := models.Project{
		ID:            uuid.NewString(),
		Title:         req.Title,
		Style:         req.Style,
		Status:        models.ProjectStatusScheduled,
		MusicUrl:      req.MusicUrl,
		MusicDuration: req.MusicDuration,
		Narration:     req.Narration,
		SceneMin:      band.Min,
		SceneMax:      band.Max,
		SceneCount:    len(slots),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := models.CreateProject(&project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}

	scenes := make([]models.Scene, 0, len(slots))
	for _, slot := range slots {
		script := ""
		if slot.Index < len(req.Scripts) {
			script = req.Scripts[slot.Index]
		}
		scenes = append(scenes, models.Scene{
			ID:        uuid.NewString(),
			ProjectId: project.ID,
			Idx:       slot.Index,
			StartAt:   slot.Start,
			Duration:  slot.Duration,
			Script:    script,
			Status:    models.SceneStatusPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
	}
	if err := models.BatchCreateScenes(models.GormDB, scenes); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建场景失败: " + err.Error()})
		return
	}

	for _, r := range req.References {
		weight := r.Weight
		if weight <= 0 {
			weight = 1
		}
		ref := models.CharacterRef{
			ID:        uuid.NewString(),
			ProjectId: project.ID,
			Name:      r.Name,
			ImageUrl:  r.ImageUrl,
			Weight:    weight,
		}
		if err := models.CreateCharacterRef(&ref); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "创建人物引用失败: " + err.Error()})
			return
		}
	}

	task := models.Task{
		ID:        uuid.NewString(),
		ProjectId: project.ID,
		Type:      models.TaskTypeGenerate,
		Status:    models.TaskStatusPending,
		Progress:  0,
		Message:   "生成运行已创建，等待执行...",
		Result:    models.TaskResult{},
		// 视频生成占大头，粗略按每场景预估
		EstimatedDuration: len(slots) * 120,
	}
	if err := models.CreateTask(&task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueGenerate(task.ID, project.ID); err != nil {
		log.Printf("生成任务入队失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "任务入队失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project": project,
		"task_id": task.ID,
		"scenes":  scenes,
	})
}

// 查询项目及其场景表
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")
	project, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}
	scenes, err := models.GetScenesByProjectGorm(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	refs, _ := models.GetCharacterRefsByProjectGorm(models.GormDB, projectID)
	c.JSON(http.StatusOK, gin.H{
		"project":    project,
		"scenes":     scenes,
		"references": refs,
	})
}

// 删除项目并取消其在途运行
func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")
	tasks, err := models.GetTasksByProjectGorm(models.GormDB, projectID)
	if err == nil {
		for _, t := range tasks {
			if t.Status == models.TaskStatusProcessing {
				if service.CancelRun(t.ID) {
					log.Printf("已取消项目 %s 的在途运行 %s", projectID, t.ID)
				}
			}
		}
	}
	if err := models.DeleteProject(projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除项目失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": projectID})
}

// 追加人物参考图（需在生成运行开始前调用才会生效）
func AddCharacterRef(c *gin.Context) {
	projectID := c.Param("project_id")
	if _, err := models.GetProjectByID(projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}
	var req characterRefReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ImageUrl == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_url is required"})
		return
	}
	weight := req.Weight
	if weight <= 0 {
		weight = 1
	}
	ref := models.CharacterRef{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		Name:      req.Name,
		ImageUrl:  req.ImageUrl,
		Weight:    weight,
	}
	if err := models.CreateCharacterRef(&ref); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建人物引用失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": ref})
}
