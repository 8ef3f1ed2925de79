package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MusicToVideo-server/provider"
)

func TestCompileDeterministic(t *testing.T) {
	in := Input{SceneIndex: 2, SceneCount: 6, Script: "她走过雨后的街道", Duration: 6.8, Camera: "tracking", Narration: true}
	refs := []Ref{{Name: "小雨", Weight: 1.0}}
	style := Style{Visual: "watercolor", AspectRatio: "16:9", Voice: "female-calm", Lang: "zh"}

	a := Compile(in, refs, style)
	b := Compile(in, refs, style)
	// 重试 / 重发场景下必须产出逐字节相同的请求
	assert.Equal(t, a, b)
}

func TestCompileRequestFields(t *testing.T) {
	in := Input{SceneIndex: 0, SceneCount: 5, Script: "opening shot over the city", Duration: 6.8, Camera: "zoom_in", Narration: true}
	c := Compile(in, nil, Style{Visual: "cinematic", Voice: "narrator", Lang: "en"})

	require.NotNil(t, c.Image)
	require.NotNil(t, c.Video)
	require.NotNil(t, c.Speech)

	assert.Equal(t, provider.ModalityImage, c.Image.Modality)
	assert.Equal(t, provider.ModalityVideo, c.Video.Modality)
	assert.Equal(t, provider.ModalitySpeech, c.Speech.Modality)

	assert.Equal(t, 0, c.Image.SceneIndex)
	assert.Equal(t, "16:9", c.Image.AspectRatio)
	assert.Contains(t, c.Image.Prompt, "opening shot over the city")

	assert.InDelta(t, 6.8, c.Video.DurationSeconds, 1e-9)
	assert.Contains(t, c.Video.Prompt, "slow zoom in")

	assert.Equal(t, "opening shot over the city", c.Speech.Prompt)
	assert.Equal(t, "narrator", c.Speech.Voice)
	assert.Equal(t, "en", c.Speech.Lang)
}

func TestCompileCharacterTokensLeadThePrompt(t *testing.T) {
	in := Input{SceneIndex: 1, SceneCount: 4, Script: "walking through the market", Duration: 6}
	refs := []Ref{{Name: "Mika", Weight: 1.0}, {Name: "Ren", Weight: 0.8}}
	c := Compile(in, refs, Style{})

	// 人物 token 必须排在脚本内容之前
	idxMika := strings.Index(c.Image.Prompt, "Mika")
	idxRen := strings.Index(c.Image.Prompt, "Ren")
	idxScript := strings.Index(c.Image.Prompt, "walking through the market")
	require.GreaterOrEqual(t, idxMika, 0)
	require.GreaterOrEqual(t, idxRen, 0)
	require.GreaterOrEqual(t, idxScript, 0)
	assert.Less(t, idxMika, idxScript)
	assert.Less(t, idxRen, idxScript)
}

func TestCompileSpeechSkipped(t *testing.T) {
	// 旁白关闭：不产出语音请求
	c := Compile(Input{SceneIndex: 0, SceneCount: 3, Script: "some script", Narration: false}, nil, Style{})
	assert.Nil(t, c.Speech)

	// 旁白开启但脚本为空：同样整体跳过
	c = Compile(Input{SceneIndex: 0, SceneCount: 3, Script: "", Narration: true}, nil, Style{})
	assert.Nil(t, c.Speech)
	// 纯音乐场景仍然要有画面
	require.NotNil(t, c.Image)
	assert.Contains(t, c.Image.Prompt, "instrumental")
}

func TestMoodProgression(t *testing.T) {
	count := 10
	first := moodFor(0, count)
	mid := moodFor(count/2, count)
	peak := moodFor(7, count)
	last := moodFor(count-1, count)

	assert.Contains(t, first, "anticipatory")
	assert.Contains(t, mid, "developing")
	assert.Contains(t, peak, "climactic")
	assert.Contains(t, last, "reflective")

	// 单场景没有情绪弧线
	assert.Contains(t, moodFor(0, 1), "balanced")
}

func TestCameraPromptFallsBackToStatic(t *testing.T) {
	assert.Equal(t, "tracking shot", cameraPrompt("tracking"))
	assert.Equal(t, "static shot", cameraPrompt("does-not-exist"))
	assert.Equal(t, "static shot", cameraPrompt(""))
}
