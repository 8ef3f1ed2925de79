package orchestrator

import (
	"context"
	"sync"

	"MusicToVideo-server/provider"
)

// 任务状态机: pending -> submitted -> polling -> {succeeded | failed}
type JobState string

const (
	JobPending   JobState = "pending"
	JobSubmitted JobState = "submitted"
	JobPolling   JobState = "polling"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Job 一个 (场景, 模态) 的生成任务。字段只由执行该任务的
// goroutine 写入，编排器是任务状态的唯一持有者。
type Job struct {
	ID         string
	SceneIndex int
	Modality   provider.Modality
	Request    *provider.Request
	Refs       []*CharacterRef

	State    JobState
	Provider string // 当前提交到的提供商
	RemoteID string // 提供商分配的任务 ID
	Attempts int    // 当前提供商上的尝试次数
	Progress int
	ResultRef string
	Err       error
}

func NewJob(id string, sceneIndex int, req *provider.Request, refs []*CharacterRef) *Job {
	return &Job{
		ID:         id,
		SceneIndex: sceneIndex,
		Modality:   req.Modality,
		Request:    req,
		Refs:       refs,
		State:      JobPending,
	}
}

// CharacterRef 人物参考图及其在各提供商侧的句柄缓存。
// 注册按 (引用, 提供商) 互斥：并发任务对同一未注册引用
// 只会触发一次 UploadReference。
type CharacterRef struct {
	ID     string
	Name   string
	Image  []byte
	Weight float64

	mu      sync.Mutex
	handles map[string]string
	locks   map[string]*sync.Mutex
}

func NewCharacterRef(id, name string, image []byte, weight float64) *CharacterRef {
	return &CharacterRef{
		ID:      id,
		Name:    name,
		Image:   image,
		Weight:  weight,
		handles: make(map[string]string),
		locks:   make(map[string]*sync.Mutex),
	}
}

// SeedHandle 预置此前运行已注册好的句柄（跨运行复用）
func (r *CharacterRef) SeedHandle(providerName, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[providerName] = handle
}

// Handles 句柄快照，供持久化回写
func (r *CharacterRef) Handles() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.handles))
	for k, v := range r.handles {
		out[k] = v
	}
	return out
}

// HandleFor 返回该引用在提供商 c 侧的句柄，必要时先注册。
// 双重检查：拿到 (引用, 提供商) 级别的锁后再查一次缓存，
// 保证任意并发度下注册至多发生一次。
func (r *CharacterRef) HandleFor(ctx context.Context, c provider.Client) (string, error) {
	name := c.Name()

	r.mu.Lock()
	if h, ok := r.handles[name]; ok {
		r.mu.Unlock()
		return h, nil
	}
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	r.mu.Unlock()

	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	if h, ok := r.handles[name]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	h, err := c.UploadReference(ctx, r.Image)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.handles[name] = h
	r.mu.Unlock()
	return h, nil
}
