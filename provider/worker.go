package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Worker 自建 GPU 推理服务的客户端，作为所有模态的最终回退。
// 协议: POST /v1/generate 提交, GET /v1/jobs/{id} 轮询, DELETE /v1/jobs/{id} 取消。
type Worker struct {
	addr   string
	client *http.Client
}

func NewWorker(addr string) *Worker {
	return &Worker{
		addr:   strings.TrimRight(addr, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Worker) Name() string { return "worker" }

func (w *Worker) Submit(ctx context.Context, req *Request) (string, error) {
	var taskType string
	specificParams := map[string]interface{}{
		"prompt": req.Prompt,
	}
	switch req.Modality {
	case ModalityImage:
		taskType = "generate_image"
		specificParams["aspect_ratio"] = orDefault(req.AspectRatio, "16:9")
		if len(req.ReferenceHandles) > 0 {
			specificParams["reference_images"] = req.ReferenceHandles
		}
	case ModalityVideo:
		taskType = "generate_video"
		specificParams["duration"] = req.DurationSeconds
		specificParams["resolution"] = "1280x720"
		specificParams["fps"] = 24
		specificParams["camera_movement"] = orDefault(req.CameraMovement, "static")
		if len(req.ReferenceHandles) > 0 {
			specificParams["reference_images"] = req.ReferenceHandles
		}
	case ModalitySpeech:
		taskType = "generate_audio"
		specificParams["voice"] = orDefault(req.Voice, "default")
		specificParams["lang"] = orDefault(req.Lang, "ja")
		specificParams["format"] = "mp3"
	default:
		return "", &UnavailableError{Provider: w.Name(), Err: fmt.Errorf("modality %s not supported", req.Modality)}
	}

	reqBody := map[string]interface{}{
		"id":         uuid.NewString(),
		"type":       taskType,
		"parameters": specificParams,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.addr+"/v1/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return "", &TransientError{Provider: w.Name(), Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", classifyHTTP(w.Name(), resp.StatusCode, string(respBody))
	}

	var respData map[string]interface{}
	if err := json.Unmarshal(respBody, &respData); err != nil {
		return "", &TransientError{Provider: w.Name(), Err: fmt.Errorf("decode response failed: %w", err)}
	}
	// 优先返回根节点的 id
	if id, ok := respData["id"].(string); ok && id != "" {
		return id, nil
	}
	if jobID, ok := respData["job_id"].(string); ok && jobID != "" {
		return jobID, nil
	}
	return "", &TransientError{Provider: w.Name(), Err: fmt.Errorf("response missing 'id'")}
}

func (w *Worker) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, w.addr+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Provider: w.Name(), Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP(w.Name(), resp.StatusCode, string(respBody))
	}

	var raw struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Error    string `json:"error"`
		Result   struct {
			ResourceUrl string `json:"resource_url"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, &TransientError{Provider: w.Name(), Err: fmt.Errorf("decode status failed: %w", err)}
	}

	pr := &PollResult{Progress: raw.Progress, Message: raw.Error}
	switch raw.Status {
	case "finished", "success", "completed", "succeeded":
		pr.Status = StatusSucceeded
		pr.ResultRef = raw.Result.ResourceUrl
	case "failed", "error":
		pr.Status = StatusFailed
	case "pending", "queued":
		pr.Status = StatusPending
	default:
		pr.Status = StatusProcessing
	}
	return pr, nil
}

// UploadReference worker 侧没有独立的引用注册接口，
// 参考图以 data URL 形式内联在后续请求里，句柄即 data URL 本身。
func (w *Worker) UploadReference(ctx context.Context, image []byte) (string, error) {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(image), nil
}

// Cancel 尽力终止远端任务
func (w *Worker) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, w.addr+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return fmt.Errorf("create delete request failed: %w", err)
	}
	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("worker delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var respData map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&respData)
		return fmt.Errorf("worker delete status: %d, body: %+v", resp.StatusCode, respData)
	}
	return nil
}
