package assembler

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoClips() []Clip {
	return []Clip{
		{SceneIndex: 0, Path: "/tmp/s0.mp4", Start: 0, Duration: 6.8, Narration: "/tmp/n0.mp3"},
		{SceneIndex: 1, Path: "/tmp/s1.mp4", Start: 6.8, Duration: 6.8},
	}
}

func TestValidateRejectsIncompleteTimeline(t *testing.T) {
	base := Input{MusicPath: "/tmp/m.mp3", TotalDuration: 13.6, OutputPath: "/tmp/out.mp4"}

	// 没有任何片段
	in := base
	err := validate(in)
	var ite *IncompleteTimelineError
	require.ErrorAs(t, err, &ite)

	// 场景 1 缺视频
	in = base
	in.Clips = twoClips()
	in.Clips[1].Path = ""
	err = validate(in)
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, 1, ite.SceneIndex)

	// 场景序出现缺口（0 之后直接 2）
	in = base
	in.Clips = []Clip{
		{SceneIndex: 0, Path: "/tmp/s0.mp4", Duration: 6.8},
		{SceneIndex: 2, Path: "/tmp/s2.mp4", Duration: 6.8},
	}
	err = validate(in)
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, 1, ite.SceneIndex)

	// 缺背景音乐不是时间线问题，单独报错
	in = base
	in.MusicPath = ""
	in.Clips = twoClips()
	err = validate(in)
	require.Error(t, err)
	var notTimeline *IncompleteTimelineError
	assert.False(t, errors.As(err, &notTimeline))
	assert.Contains(t, err.Error(), "music")
}

func TestValidateAcceptsCompleteTimeline(t *testing.T) {
	in := Input{MusicPath: "/tmp/m.mp3", TotalDuration: 13.6, Clips: twoClips(), OutputPath: "/tmp/out.mp4"}
	assert.NoError(t, validate(in))
}

func TestBuildArgsLayout(t *testing.T) {
	in := Input{
		MusicPath:     "/tmp/m.mp3",
		TotalDuration: 13.6,
		Clips:         twoClips(),
		OutputPath:    "/tmp/out.mp4",
	}
	args := buildArgs(in)
	joined := strings.Join(args, " ")

	// 输入顺序: 各片段 -> 背景音乐 -> 各旁白
	assert.Contains(t, joined, "-i /tmp/s0.mp4 -i /tmp/s1.mp4 -i /tmp/m.mp3 -i /tmp/n0.mp3")

	fc := filterComplex(t, args)
	// 每个片段裁齐到排定时长并统一到 720p
	assert.Contains(t, fc, "trim=duration=6.8")
	assert.Contains(t, fc, "scale=1280:720")
	assert.Contains(t, fc, "concat=n=2:v=1:a=0[vout]")
	// 旁白按场景起始偏移延迟后混入（场景 0 从头播）
	assert.Contains(t, fc, "adelay=0|0")
	assert.Contains(t, fc, "amix=inputs=2")

	// 成片严格截断到音乐总时长
	assert.Contains(t, joined, "-t 13.6")
	assert.Contains(t, joined, "-map [vout]")
	assert.Contains(t, joined, "-map [aout]")
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
}

func TestBuildArgsNarrationDelayUsesSceneStart(t *testing.T) {
	in := Input{
		MusicPath:     "/tmp/m.mp3",
		TotalDuration: 13.6,
		Clips: []Clip{
			{SceneIndex: 0, Path: "/tmp/s0.mp4", Start: 0, Duration: 6.8},
			{SceneIndex: 1, Path: "/tmp/s1.mp4", Start: 6.8, Duration: 6.8, Narration: "/tmp/n1.mp3"},
		},
		OutputPath: "/tmp/out.mp4",
	}
	fc := filterComplex(t, buildArgs(in))
	assert.Contains(t, fc, "adelay=6800|6800")
}

func TestBuildArgsNoNarration(t *testing.T) {
	in := Input{
		MusicPath:     "/tmp/m.mp3",
		TotalDuration: 6.8,
		Clips:         []Clip{{SceneIndex: 0, Path: "/tmp/s0.mp4", Duration: 6.8}},
		OutputPath:    "/tmp/out.mp4",
	}
	fc := filterComplex(t, buildArgs(in))
	// 纯音乐：背景音轨直通，不经过 amix
	assert.NotContains(t, fc, "amix")
	assert.Contains(t, fc, "[bgm]anull[aout]")
}

func TestFfNumFormatting(t *testing.T) {
	assert.Equal(t, "6.8", ffNum(6.8))
	assert.Equal(t, "7", ffNum(7))
	assert.Equal(t, "0.5", ffNum(0.5))
}

func filterComplex(t *testing.T, args []string) string {
	t.Helper()
	for i, a := range args {
		if a == "-filter_complex" {
			require.Less(t, i+1, len(args))
			return args[i+1]
		}
	}
	t.Fatal("filter_complex not found")
	return ""
}
