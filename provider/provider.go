package provider

import "context"

// Modality 生成模态
type Modality string

const (
	ModalityImage  Modality = "image"
	ModalityVideo  Modality = "video"
	ModalitySpeech Modality = "speech"
)

// Status 远端任务状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Request 提供商无关的生成请求。由 prompt 编译器产出，
// 编排器在提交前把当前提供商下已注册的引用句柄填入 ReferenceHandles。
// 同一输入编译结果恒等，因此重试时可原样重发。
type Request struct {
	Modality        Modality `json:"modality"`
	SceneIndex      int      `json:"scene_index"`
	Prompt          string   `json:"prompt"`
	DurationSeconds float64  `json:"duration_seconds"`
	AspectRatio     string   `json:"aspect_ratio"`
	CameraMovement  string   `json:"camera_movement"`
	Voice           string   `json:"voice"`
	Lang            string   `json:"lang"`
	// 提供商侧的人物引用句柄（URL 或文件 ID，按当前提供商注册所得）
	ReferenceHandles []string `json:"reference_handles,omitempty"`
}

// PollResult 一次轮询的结果快照
type PollResult struct {
	Status    Status
	Progress  int // 0-100
	ResultRef string
	Message   string
}

// Client 外部生成服务的统一能力集。实现不得在调用间保留任务状态，
// 编排器是任务状态的唯一持有者。
type Client interface {
	Name() string
	// Submit 提交请求，返回提供商分配的任务 ID
	Submit(ctx context.Context, req *Request) (string, error)
	// Poll 查询任务状态
	Poll(ctx context.Context, jobID string) (*PollResult, error)
	// UploadReference 向提供商注册一张人物参考图，返回可复用的句柄
	UploadReference(ctx context.Context, image []byte) (string, error)
}

// Canceler 可选能力：尽力终止远端任务（取消传播时调用，不保证成功）
type Canceler interface {
	Cancel(ctx context.Context, jobID string) error
}
