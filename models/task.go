package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
)

// 任务状态（在系统中统一使用这些状态）
const (
	// pending: 任务已就绪，等待执行器取走执行
	TaskStatusPending = "pending"
	// processing: 任务正在执行中
	TaskStatusProcessing = "processing"
	TaskStatusSuccess    = "finished"
	TaskStatusFailed     = "failed"
	// cancelled: 任务被用户/系统取消
	TaskStatusCancelled = "cancelled"

	// 目前只有一种任务类型：整个项目的生成运行
	TaskTypeGenerate = "generate_project"
)

type Task struct {
	ID                string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId         string     `json:"projectId"`
	Type              string     `json:"type"`
	Status            string     `json:"status"`
	Progress          int        `json:"progress"`
	Message           string     `json:"message"`
	Result            TaskResult `gorm:"type:json" json:"result"`
	Error             string     `json:"error"`
	EstimatedDuration int        `json:"estimatedDuration"`
	StartedAt         time.Time  `json:"startedAt"`
	FinishedAt        time.Time  `json:"finishedAt"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// SceneFailure 某个场景某种模态最终失败的记录（回退链耗尽）
type SceneFailure struct {
	SceneIndex int    `json:"scene_index"`
	Modality   string `json:"modality"`
	Reason     string `json:"reason"`
}

// TaskResult 记录运行产物与失败明细
type TaskResult struct {
	VideoUrl       string         `json:"video_url,omitempty"`
	CompletedJobs  int            `json:"completed_jobs"`
	TotalJobs      int            `json:"total_jobs"`
	DegradedScenes []int          `json:"degraded_scenes,omitempty"`
	Failures       []SceneFailure `json:"failures,omitempty"`
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (r TaskResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (r *TaskResult) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", value))
	}
	return json.Unmarshal(bytes, r)
}

func (t *Task) UpdateStatus(db *gorm.DB, status string, result *TaskResult, errMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if result != nil {
		jsonBytes, err := json.Marshal(result)
		if err != nil {
			log.Printf("序列化任务结果失败: %v", err)
		} else {
			updates["result"] = jsonBytes
		}
	}
	if status == TaskStatusProcessing {
		updates["started_at"] = time.Now()
	}
	if status == TaskStatusSuccess || status == TaskStatusFailed || status == TaskStatusCancelled {
		updates["finished_at"] = time.Now()
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	return db.Model(t).Updates(updates).Error
}

// UpdateProgress 轮询过程中的进度回写（0-100）
func (t *Task) UpdateProgress(db *gorm.DB, progress int, message string) error {
	updates := map[string]interface{}{
		"progress":   progress,
		"updated_at": time.Now(),
	}
	if message != "" {
		updates["message"] = message
	}
	return db.Model(t).Updates(updates).Error
}

func GetTaskByIDGorm(db *gorm.DB, taskID string) (*Task, error) {
	var task Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func GetTasksByProjectGorm(db *gorm.DB, projectID string) ([]Task, error) {
	var tasks []Task
	if err := db.Where("project_id = ?", projectID).Order("created_at desc").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// 强制指定表名为 "task"
func (Task) TableName() string {
	return "task"
}
