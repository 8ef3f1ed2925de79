package models

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"MusicToVideo-server/config"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	dsn := config.AppConfig.MySQL.DSN
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("GORM 初始化失败: %v", err)
	}

	log.Println("数据库连接成功 (Native SQL + GORM)")

	// 自动建表（读取 doc/sql/MusicToVideo.sql）
	b, err := os.ReadFile("doc/sql/MusicToVideo.sql")
	if err != nil {
		log.Printf("读取 SQL 文件失败（跳过建表）: %v", err)
		return
	}
	sqls := strings.Split(string(b), ";")
	for _, s := range sqls {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := DB.Exec(s); err != nil {
			log.Printf("执行建表语句失败: %v ; sql: %s", err, s)
		}
	}
}

// Project CRUD
func CreateProject(p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := DB.Exec(
		`INSERT INTO project (id, title, style, status, music_url, music_duration, narration, scene_min, scene_max, scene_count, cover_image, video_url, description, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Style, p.Status, p.MusicUrl, p.MusicDuration, p.Narration, p.SceneMin, p.SceneMax, p.SceneCount, p.CoverImage, p.VideoUrl, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func GetProjectByID(projectID string) (*Project, error) {
	var p Project
	if err := GormDB.First(&p, "id = ?", projectID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func UpdateProjectStatus(projectID, status string) error {
	return GormDB.Model(&Project{}).Where("id = ?", projectID).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}).Error
}

func UpdateProjectVideo(projectID, videoURL string) error {
	return GormDB.Model(&Project{}).Where("id = ?", projectID).Updates(map[string]interface{}{
		"video_url":  videoURL,
		"status":     ProjectStatusReady,
		"updated_at": time.Now(),
	}).Error
}

func DeleteProject(projectID string) error {
	if err := GormDB.Where("project_id = ?", projectID).Delete(&Scene{}).Error; err != nil {
		return err
	}
	if err := GormDB.Where("project_id = ?", projectID).Delete(&CharacterRef{}).Error; err != nil {
		return err
	}
	if err := GormDB.Where("project_id = ?", projectID).Delete(&Task{}).Error; err != nil {
		return err
	}
	return GormDB.Delete(&Project{}, "id = ?", projectID).Error
}

// Task CRUD
func CreateTask(t *Task) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	return GormDB.Create(t).Error
}

func GetTaskByID(taskID string) (*Task, error) {
	return GetTaskByIDGorm(GormDB, taskID)
}

func CreateCharacterRef(r *CharacterRef) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Handles == nil {
		r.Handles = HandleMap{}
	}
	return GormDB.Create(r).Error
}
