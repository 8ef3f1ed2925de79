package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MusicToVideo-server/models"
)

func TestLoadRefsSkipsFailedDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	p := NewProcessor(nil)
	dbRefs := []models.CharacterRef{
		// 不可达地址，下载必然失败
		{ID: "ref-a", Name: "甲", ImageUrl: "http://127.0.0.1:1/a.png", Weight: 1},
		{ID: "ref-b", Name: "乙", ImageUrl: srv.URL + "/b.png", Weight: 1, Handles: models.HandleMap{"piapi": "cached"}},
	}

	orchRefs, promptRefs := p.loadRefs(context.Background(), dbRefs)

	require.Len(t, orchRefs, 1)
	require.Len(t, promptRefs, 1)
	assert.Equal(t, "ref-b", orchRefs[0].ID)
	assert.Equal(t, "乙", promptRefs[0].Name)
	// 预置句柄来自存活引用自己的记录
	assert.Equal(t, map[string]string{"piapi": "cached"}, orchRefs[0].Handles())
}

// 引用被跳过后回写不能按下标配对：句柄必须落回自己的行
func TestHandleWritebackPairsByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	p := NewProcessor(nil)
	dbRefs := []models.CharacterRef{
		{ID: "ref-a", Name: "甲", ImageUrl: "http://127.0.0.1:1/a.png", Weight: 1},
		{ID: "ref-b", Name: "乙", ImageUrl: srv.URL + "/b.png", Weight: 1},
	}
	orchRefs, _ := p.loadRefs(context.Background(), dbRefs)
	require.Len(t, orchRefs, 1)

	byID := dbRefByID(dbRefs)
	for _, or := range orchRefs {
		dbRef, ok := byID[or.ID]
		require.True(t, ok)
		assert.Equal(t, or.ID, dbRef.ID)
		// 下标配对会把 ref-b 的句柄写到 ref-a 上
		assert.NotEqual(t, "ref-a", dbRef.ID)
	}
}

func TestRemoteRef(t *testing.T) {
	assert.True(t, remoteRef("http://cdn/clip.mp4"))
	assert.True(t, remoteRef("https://cdn/clip.mp4"))
	assert.False(t, remoteRef("/tmp/pv_x/scene_0.mp4"))
	assert.False(t, remoteRef("data:image/png;base64,AAAA"))
}

func TestCleanupWorkDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pv_run")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene_0.mp4"), []byte("x"), 0o644))

	cleanupWorkDir(dir)
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// 空目录名不触碰文件系统
	cleanupWorkDir("")
}
