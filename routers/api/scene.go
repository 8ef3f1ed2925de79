package api

import (
	"net/http"

	"MusicToVideo-server/models"

	"github.com/gin-gonic/gin"
)

// 查询项目场景列表：GET /v1/api/projects/:project_id/scenes
func GetScenes(c *gin.Context) {
	projectID := c.Param("project_id")
	scenes, err := models.GetScenesByProjectGorm(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}

// 查询场景详情：GET /v1/api/projects/:project_id/scenes/:scene_id
func GetSceneDetail(c *gin.Context) {
	sceneID := c.Param("scene_id")
	scene, err := models.GetSceneByIDGorm(models.GormDB, sceneID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scene not found: " + err.Error()})
		return
	}
	if scene.ProjectId != c.Param("project_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "scene not in project"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": scene})
}
