package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FishAudio fish.audio 语音合成客户端。TTS 接口是同步的，
// Submit 内完成合成并把音频落盘，Poll 取走暂存结果（同 Gemini 的 Imagen 处理）。
type FishAudio struct {
	baseURL string
	apiKey  string
	voice   string
	workDir string
	client  *http.Client

	mu   sync.Mutex
	held map[string]*PollResult
}

func NewFishAudio(baseURL, apiKey, voice, workDir string) *FishAudio {
	if baseURL == "" {
		baseURL = "https://api.fish.audio"
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &FishAudio{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		voice:   voice,
		workDir: workDir,
		client:  &http.Client{Timeout: 60 * time.Second},
		held:    make(map[string]*PollResult),
	}
}

func (f *FishAudio) Name() string { return "fish_audio" }

func (f *FishAudio) Submit(ctx context.Context, req *Request) (string, error) {
	if req.Modality != ModalitySpeech {
		return "", &UnavailableError{Provider: f.Name(), Err: fmt.Errorf("modality %s not supported", req.Modality)}
	}

	voice := req.Voice
	if voice == "" {
		voice = f.voice
	}
	payload := map[string]interface{}{
		"text":     req.Prompt,
		"voice":    orDefault(voice, "default"),
		"language": orDefault(req.Lang, "ja"),
		"format":   "mp3",
		"speed":    1.0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v1/tts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", &TransientError{Provider: f.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", classifyHTTP(f.Name(), resp.StatusCode, string(respBody))
	}

	path := filepath.Join(f.workDir, fmt.Sprintf("tts_%s.mp3", uuid.NewString()))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file failed: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", &TransientError{Provider: f.Name(), Err: fmt.Errorf("read audio stream failed: %w", err)}
	}
	out.Close()

	jobID := "tts:" + uuid.NewString()
	f.mu.Lock()
	f.held[jobID] = &PollResult{Status: StatusSucceeded, Progress: 100, ResultRef: path}
	f.mu.Unlock()
	return jobID, nil
}

func (f *FishAudio) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	f.mu.Lock()
	pr, ok := f.held[jobID]
	if ok {
		delete(f.held, jobID)
	}
	f.mu.Unlock()
	if !ok {
		return nil, &TransientError{Provider: f.Name(), Err: fmt.Errorf("unknown job %s", jobID)}
	}
	return pr, nil
}

// UploadReference 语音合成没有人物参考的概念
func (f *FishAudio) UploadReference(ctx context.Context, image []byte) (string, error) {
	return "", &UnavailableError{Provider: f.Name(), Err: fmt.Errorf("reference upload not supported")}
}
