package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// HandleMap 提供商名 -> 该提供商侧的引用句柄（注册一次后复用）
type HandleMap map[string]string

// 实现 driver.Valuer 接口: Go Map -> JSON String (存入数据库)
func (h HandleMap) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal(HandleMap{})
	}
	return json.Marshal(h)
}

// 实现 sql.Scanner 接口: JSON String -> Go Map (从数据库读取)
func (h *HandleMap) Scan(value interface{}) error {
	if value == nil {
		*h = HandleMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", value))
	}
	return json.Unmarshal(bytes, h)
}

// CharacterRef 用于跨场景保持人物一致性的参考图。
// Handles 缓存各提供商注册后的句柄，避免重复注册。
type CharacterRef struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId string    `json:"projectId"`
	Name      string    `json:"name"`
	ImageUrl  string    `json:"imageUrl"`
	Weight    float64   `json:"weight"`
	Handles   HandleMap `gorm:"type:json" json:"handles"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func GetCharacterRefsByProjectGorm(db *gorm.DB, projectID string) ([]CharacterRef, error) {
	var refs []CharacterRef
	if err := db.Where("project_id = ?", projectID).Order("created_at asc").Find(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}

// UpdateHandles 把本次运行期间新注册的句柄写回数据库，便于后续运行复用
func (r *CharacterRef) UpdateHandles(db *gorm.DB, handles HandleMap) error {
	updates := map[string]interface{}{
		"handles":    handles,
		"updated_at": time.Now(),
	}
	return db.Model(r).Updates(updates).Error
}

func (CharacterRef) TableName() string {
	return "character_ref"
}
