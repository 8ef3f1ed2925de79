package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SceneStatusPending    = "pending"
	SceneStatusProcessing = "processing"
	SceneStatusCompleted  = "completed"
	SceneStatusDegraded   = "degraded" // 生成失败后用占位片段顶替
	SceneStatusFailed     = "failed"
)

// Scene 一个按音乐时长排定的镜头段。Idx 从 0 起连续编号，
// StartAt/Duration 由调度器给出，所有场景时长之和等于音乐总时长。
type Scene struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId   string    `json:"projectId"`
	Idx         int       `gorm:"column:idx" json:"index"`
	StartAt     float64   `json:"startAt"`
	Duration    float64   `json:"duration"`
	Script      string    `json:"script"`
	ImagePrompt string    `json:"imagePrompt"`
	VideoPrompt string    `json:"videoPrompt"`
	Status      string    `json:"status"`
	ImagePath   string    `json:"imagePath"`
	VideoPath   string    `json:"videoPath"`
	AudioPath   string    `json:"audioPath"`
	Transition  string    `json:"transition"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func BatchCreateScenes(db *gorm.DB, scenes []Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	return db.Create(&scenes).Error
}

func GetScenesByProjectGorm(db *gorm.DB, projectID string) ([]Scene, error) {
	var scenes []Scene
	if err := db.Where("project_id = ?", projectID).Order("idx asc").Find(&scenes).Error; err != nil {
		return nil, err
	}
	return scenes, nil
}

func GetSceneByIDGorm(db *gorm.DB, sceneID string) (*Scene, error) {
	var scene Scene
	if err := db.First(&scene, "id = ?", sceneID).Error; err != nil {
		return nil, err
	}
	return &scene, nil
}

// UpdateArtifact 写回单个素材地址，field 取 image_path / video_path / audio_path
func (s *Scene) UpdateArtifact(db *gorm.DB, field, url string) error {
	updates := map[string]interface{}{
		field:        url,
		"updated_at": time.Now(),
	}
	return db.Model(s).Updates(updates).Error
}

func (s *Scene) UpdateStatus(db *gorm.DB, status string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	return db.Model(s).Updates(updates).Error
}

func (Scene) TableName() string {
	return "scene"
}
