package provider

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Gemini 封装 Google GenAI：Imagen 生图 + Veo 生视频。
// Veo 是原生的提交/轮询长任务接口；Imagen 是同步接口，
// 为了适配统一的 Submit/Poll 能力集，Submit 内同步完成生成、
// 结果暂存到 held 中由 Poll 取走。这是该客户端唯一的本地状态，
// 条目在 Poll 返回终态后即删除。
type Gemini struct {
	client     *genai.Client
	imageModel string
	videoModel string
	workDir    string

	mu   sync.Mutex
	held map[string]*PollResult
}

func NewGemini(ctx context.Context, apiKey, imageModel, videoModel, workDir string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if imageModel == "" {
		imageModel = "imagen-3.0-generate-002"
	}
	if videoModel == "" {
		videoModel = "veo-2.0-generate-001"
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Gemini{
		client:     client,
		imageModel: imageModel,
		videoModel: videoModel,
		workDir:    workDir,
		held:       make(map[string]*PollResult),
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Submit(ctx context.Context, req *Request) (string, error) {
	switch req.Modality {
	case ModalityImage:
		return g.submitImage(ctx, req)
	case ModalityVideo:
		return g.submitVideo(ctx, req)
	default:
		return "", &UnavailableError{Provider: g.Name(), Err: fmt.Errorf("modality %s not supported", req.Modality)}
	}
}

func (g *Gemini) submitImage(ctx context.Context, req *Request) (string, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.imageModel, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    orDefault(req.AspectRatio, "16:9"),
	})
	if err != nil {
		return "", g.classify(err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return "", &TransientError{Provider: g.Name(), Err: fmt.Errorf("empty image response")}
	}

	path := filepath.Join(g.workDir, fmt.Sprintf("imagen_%s.png", uuid.NewString()))
	if err := os.WriteFile(path, resp.GeneratedImages[0].Image.ImageBytes, 0o644); err != nil {
		return "", fmt.Errorf("write image failed: %w", err)
	}

	jobID := "imagen:" + uuid.NewString()
	g.mu.Lock()
	g.held[jobID] = &PollResult{Status: StatusSucceeded, Progress: 100, ResultRef: path}
	g.mu.Unlock()
	return jobID, nil
}

func (g *Gemini) submitVideo(ctx context.Context, req *Request) (string, error) {
	op, err := g.client.Models.GenerateVideos(ctx, g.videoModel, req.Prompt, nil, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    orDefault(req.AspectRatio, "16:9"),
	})
	if err != nil {
		return "", g.classify(err)
	}
	if op.Name == "" {
		return "", &TransientError{Provider: g.Name(), Err: fmt.Errorf("operation missing name")}
	}
	return "veo:" + op.Name, nil
}

func (g *Gemini) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	kind, id, ok := strings.Cut(jobID, ":")
	if !ok {
		return nil, fmt.Errorf("malformed gemini job id: %s", jobID)
	}

	if kind == "imagen" {
		g.mu.Lock()
		pr, ok := g.held[jobID]
		if ok {
			delete(g.held, jobID)
		}
		g.mu.Unlock()
		if !ok {
			return nil, &TransientError{Provider: g.Name(), Err: fmt.Errorf("unknown job %s", jobID)}
		}
		return pr, nil
	}

	op := &genai.GenerateVideosOperation{Name: id}
	op, err := g.client.Operations.GetVideosOperation(ctx, op, nil)
	if err != nil {
		return nil, g.classify(err)
	}
	if !op.Done {
		return &PollResult{Status: StatusProcessing}, nil
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return &PollResult{Status: StatusFailed, Message: "operation finished without videos"}, nil
	}

	video := op.Response.GeneratedVideos[0].Video
	if video == nil {
		return &PollResult{Status: StatusFailed, Message: "empty video payload"}, nil
	}
	if video.URI != "" {
		return &PollResult{Status: StatusSucceeded, Progress: 100, ResultRef: video.URI}, nil
	}
	// 有些模型直接内联返回字节
	path := filepath.Join(g.workDir, fmt.Sprintf("veo_%s.mp4", uuid.NewString()))
	if err := os.WriteFile(path, video.VideoBytes, 0o644); err != nil {
		return nil, fmt.Errorf("write video failed: %w", err)
	}
	return &PollResult{Status: StatusSucceeded, Progress: 100, ResultRef: path}, nil
}

// UploadReference 通过 Files API 注册参考图，句柄为文件 URI
func (g *Gemini) UploadReference(ctx context.Context, image []byte) (string, error) {
	file, err := g.client.Files.Upload(ctx, bytes.NewReader(image), &genai.UploadFileConfig{
		MIMEType: "image/png",
	})
	if err != nil {
		return "", g.classify(err)
	}
	if file.URI != "" {
		return file.URI, nil
	}
	return file.Name, nil
}

// classify 根据错误文本归类（SDK 没有稳定的错误类型可依赖）
func (g *Gemini) classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key") || strings.Contains(msg, "401") || strings.Contains(msg, "permission"):
		return &AuthError{Provider: g.Name(), Err: err}
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate"):
		return &RateLimitError{Provider: g.Name(), Err: err}
	case strings.Contains(msg, "safety") || strings.Contains(msg, "blocked") || strings.Contains(msg, "policy"):
		return &ContentPolicyError{Provider: g.Name(), Reason: err.Error()}
	case strings.Contains(msg, "503") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "500"):
		return &UnavailableError{Provider: g.Name(), Err: err}
	default:
		return &TransientError{Provider: g.Name(), Err: err}
	}
}
