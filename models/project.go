package models

import "time"

// 项目状态常量（用于在业务层统一描述项目进度）
const (
	ProjectStatusCreated    = "created"    // 项目已创建，场景表尚未排定
	ProjectStatusScheduled  = "scheduled"  // 场景表已按音乐时长排定
	ProjectStatusGenerating = "generating" // 各场景生成任务执行中
	ProjectStatusAssembling = "assembling" // 素材齐备，正在合成时间线
	ProjectStatusReady      = "ready"      // 成片已生成，可播放/导出
	ProjectStatusFailed     = "failed"     // 项目生成过程出错
)

type Project struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title         string    `json:"title"`
	Style         string    `json:"style"`
	Status        string    `json:"status"`
	MusicUrl      string    `json:"musicUrl"`
	MusicDuration float64   `json:"musicDuration"`
	Narration     bool      `json:"narration"`
	SceneMin      float64   `json:"sceneMin"`
	SceneMax      float64   `json:"sceneMax"`
	SceneCount    int       `json:"sceneCount"`
	CoverImage    string    `json:"coverImage"`
	VideoUrl      string    `json:"videoUrl"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}
