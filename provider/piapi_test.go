package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPiAPISubmitImageAppendsCref(t *testing.T) {
	var got map[string]interface{}
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/midjourney/imagine", r.URL.Path)
		apiKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "mj-1"})
	}))
	defer srv.Close()

	p := NewPiAPI(srv.URL, "test-key")
	id, err := p.Submit(context.Background(), &Request{
		Modality:         ModalityImage,
		Prompt:           "portrait in the rain",
		ReferenceHandles: []string{"https://img/ref1.png"},
	})
	require.NoError(t, err)

	// 任务 ID 带服务前缀，轮询时据此选端点
	assert.Equal(t, "midjourney:mj-1", id)
	assert.Equal(t, "test-key", apiKey)
	assert.Equal(t, "portrait in the rain --cref https://img/ref1.png", got["prompt"])
}

func TestPiAPISubmitVideoUsesFirstReferenceAsImage(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hailuo/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "hl-7"})
	}))
	defer srv.Close()

	p := NewPiAPI(srv.URL, "k")
	id, err := p.Submit(context.Background(), &Request{
		Modality:         ModalityVideo,
		Prompt:           "slow pan over the harbor",
		DurationSeconds:  6.8,
		ReferenceHandles: []string{"https://img/ref1.png", "https://img/ref2.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hailuo:hl-7", id)
	assert.Equal(t, "https://img/ref1.png", got["image_url"])
	assert.InDelta(t, 7, got["duration"].(float64), 1e-9, "时长四舍五入到整秒")
}

func TestPiAPIPollRoutesByServicePrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hailuo/status/hl-7", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "completed", "progress": 100, "result_url": "https://cdn/clip.mp4",
		})
	}))
	defer srv.Close()

	pr, err := NewPiAPI(srv.URL, "k").Poll(context.Background(), "hailuo:hl-7")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, pr.Status)
	assert.Equal(t, "https://cdn/clip.mp4", pr.ResultRef)
}

func TestPiAPIPollPolicyRejectSurfacesAsContentPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "failed", "message": "prompt flagged by moderation",
		})
	}))
	defer srv.Close()

	_, err := NewPiAPI(srv.URL, "k").Poll(context.Background(), "midjourney:mj-1")
	require.Error(t, err)
	var cpe *ContentPolicyError
	require.ErrorAs(t, err, &cpe)
	assert.True(t, FallbackEligible(err))
}

func TestPiAPIPollMalformedJobID(t *testing.T) {
	_, err := NewPiAPI("http://unused", "k").Poll(context.Background(), "no-prefix")
	assert.Error(t, err)
}

func TestPiAPIUploadReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/common/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		f.Close()
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://img/uploaded.png"})
	}))
	defer srv.Close()

	h, err := NewPiAPI(srv.URL, "k").UploadReference(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://img/uploaded.png", h)
}
