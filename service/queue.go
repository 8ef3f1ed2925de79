package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"MusicToVideo-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypeGenerateProject = "pv:generate"
)

type TaskPayload struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueGenerate 项目生成运行入队
func EnqueueGenerate(taskID, projectID string) error {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID, ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	timeout := time.Duration(config.AppConfig.Pipeline.ProjectTimeoutMinutes) * time.Minute

	task := asynq.NewTask(TypeGenerateProject, payload,
		asynq.MaxRetry(1),                 // 重试/回退由编排器自己管理
		asynq.Timeout(timeout+10*time.Minute),
		asynq.Retention(24*time.Hour),     // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Generate Run Enqueued: ID=%s, TaskID=%s", info.ID, taskID)
	return nil
}
