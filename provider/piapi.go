package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// PiAPI 聚合网关客户端：Midjourney 生图 + Hailuo 生视频。
// 任务 ID 形如 "midjourney:xxx"，内部记住轮询该用哪个服务端点。
type PiAPI struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewPiAPI(baseURL, apiKey string) *PiAPI {
	return &PiAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PiAPI) Name() string { return "piapi" }

func (p *PiAPI) Submit(ctx context.Context, req *Request) (string, error) {
	switch req.Modality {
	case ModalityImage:
		return p.submitImage(ctx, req)
	case ModalityVideo:
		return p.submitVideo(ctx, req)
	default:
		return "", &UnavailableError{Provider: p.Name(), Err: fmt.Errorf("modality %s not supported", req.Modality)}
	}
}

func (p *PiAPI) submitImage(ctx context.Context, req *Request) (string, error) {
	prompt := req.Prompt
	// Midjourney 的人物一致性通过 --cref 引用图 URL 传递
	for _, h := range req.ReferenceHandles {
		prompt += " --cref " + h
	}
	payload := map[string]interface{}{
		"prompt":       prompt,
		"aspect_ratio": orDefault(req.AspectRatio, "16:9"),
		"version":      "6",
		"style":        "raw",
		"quality":      2,
	}
	jobID, err := p.postJob(ctx, "/midjourney/imagine", payload)
	if err != nil {
		return "", err
	}
	return "midjourney:" + jobID, nil
}

func (p *PiAPI) submitVideo(ctx context.Context, req *Request) (string, error) {
	payload := map[string]interface{}{
		"prompt":           req.Prompt,
		"duration":         int(req.DurationSeconds + 0.5),
		"motion_intensity": 5,
		"camera_movement":  orDefault(req.CameraMovement, "auto"),
	}
	// 有参考图时走图生视频
	if len(req.ReferenceHandles) > 0 {
		payload["image_url"] = req.ReferenceHandles[0]
	}
	jobID, err := p.postJob(ctx, "/hailuo/generate", payload)
	if err != nil {
		return "", err
	}
	return "hailuo:" + jobID, nil
}

func (p *PiAPI) postJob(ctx context.Context, path string, payload map[string]interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", &TransientError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classifyHTTP(p.Name(), resp.StatusCode, string(respBody))
	}

	var respData struct {
		JobID  string `json:"job_id"`
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(respBody, &respData); err != nil {
		return "", &TransientError{Provider: p.Name(), Err: fmt.Errorf("decode response failed: %w", err)}
	}
	if respData.JobID != "" {
		return respData.JobID, nil
	}
	if respData.TaskID != "" {
		return respData.TaskID, nil
	}
	return "", &TransientError{Provider: p.Name(), Err: fmt.Errorf("response missing job_id")}
}

func (p *PiAPI) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	service, id, ok := strings.Cut(jobID, ":")
	if !ok {
		return nil, fmt.Errorf("malformed piapi job id: %s", jobID)
	}
	url := fmt.Sprintf("%s/%s/status/%s", p.baseURL, service, id)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP(p.Name(), resp.StatusCode, string(respBody))
	}

	var raw struct {
		Status    string `json:"status"`
		Progress  int    `json:"progress"`
		ResultURL string `json:"result_url"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, &TransientError{Provider: p.Name(), Err: fmt.Errorf("decode status failed: %w", err)}
	}

	pr := &PollResult{Progress: raw.Progress, Message: raw.Message}
	switch raw.Status {
	case "completed", "success", "succeeded", "finished":
		pr.Status = StatusSucceeded
		pr.ResultRef = raw.ResultURL
	case "failed", "error":
		if looksLikePolicyReject(raw.Message) {
			return nil, &ContentPolicyError{Provider: p.Name(), Reason: raw.Message}
		}
		pr.Status = StatusFailed
	case "pending", "queued", "waiting":
		pr.Status = StatusPending
	default:
		pr.Status = StatusProcessing
	}
	return pr, nil
}

// UploadReference 上传参考图，返回图床 URL 作为句柄
func (p *PiAPI) UploadReference(ctx context.Context, image []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "reference.png")
	if err != nil {
		return "", fmt.Errorf("create form file failed: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return "", fmt.Errorf("write form file failed: %w", err)
	}
	w.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/common/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("x-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", &TransientError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classifyHTTP(p.Name(), resp.StatusCode, string(respBody))
	}

	var respData struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &respData); err != nil {
		return "", &TransientError{Provider: p.Name(), Err: fmt.Errorf("decode upload response failed: %w", err)}
	}
	if respData.URL == "" {
		return "", &TransientError{Provider: p.Name(), Err: fmt.Errorf("upload response missing url")}
	}
	return respData.URL, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
