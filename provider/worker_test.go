package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerSubmitVideo(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": got["id"].(string)})
	}))
	defer srv.Close()

	wk := NewWorker(srv.URL)
	id, err := wk.Submit(context.Background(), &Request{
		Modality:         ModalityVideo,
		SceneIndex:       2,
		Prompt:           "city at dusk",
		DurationSeconds:  6.8,
		CameraMovement:   "slow zoom in",
		ReferenceHandles: []string{"data:image/png;base64,AAAA"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, "generate_video", got["type"])
	params := got["parameters"].(map[string]interface{})
	assert.Equal(t, "city at dusk", params["prompt"])
	assert.InDelta(t, 6.8, params["duration"].(float64), 1e-9)
	assert.Equal(t, "slow zoom in", params["camera_movement"])
	assert.Len(t, params["reference_images"], 1)
}

func TestWorkerSubmitSpeechDefaults(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1"})
	}))
	defer srv.Close()

	wk := NewWorker(srv.URL)
	_, err := wk.Submit(context.Background(), &Request{Modality: ModalitySpeech, Prompt: "こんにちは"})
	require.NoError(t, err)

	assert.Equal(t, "generate_audio", got["type"])
	params := got["parameters"].(map[string]interface{})
	assert.Equal(t, "default", params["voice"])
	assert.Equal(t, "mp3", params["format"])
}

func TestWorkerSubmitClassifiesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	wk := NewWorker(srv.URL)
	_, err := wk.Submit(context.Background(), &Request{Modality: ModalityImage, Prompt: "p"})
	require.Error(t, err)
	assert.True(t, Retryable(err))
	assert.False(t, FallbackEligible(err))
}

func TestWorkerPollStatusMapping(t *testing.T) {
	cases := []struct {
		remote string
		want   Status
	}{
		{"pending", StatusPending},
		{"queued", StatusPending},
		{"running", StatusProcessing},
		{"finished", StatusSucceeded},
		{"completed", StatusSucceeded},
		{"failed", StatusFailed},
		{"error", StatusFailed},
	}
	for _, c := range cases {
		t.Run(c.remote, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.True(t, strings.HasPrefix(r.URL.Path, "/v1/jobs/"))
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"status":   c.remote,
					"progress": 42,
					"result":   map[string]string{"resource_url": "http://files/clip.mp4"},
				})
			}))
			defer srv.Close()

			pr, err := NewWorker(srv.URL).Poll(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, c.want, pr.Status)
			assert.Equal(t, 42, pr.Progress)
			if c.want == StatusSucceeded {
				assert.Equal(t, "http://files/clip.mp4", pr.ResultRef)
			}
		})
	}
}

func TestWorkerUploadReferenceInlinesDataURL(t *testing.T) {
	h, err := NewWorker("http://unused").UploadReference(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, "data:image/png;base64,"))
}

func TestWorkerCancel(t *testing.T) {
	var path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, method = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wk := NewWorker(srv.URL)
	require.NoError(t, wk.Cancel(context.Background(), "job-9"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/v1/jobs/job-9", path)

	assert.Error(t, wk.Cancel(context.Background(), ""))
}
