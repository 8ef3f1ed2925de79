package prompt

import (
	"fmt"
	"strings"

	"MusicToVideo-server/provider"
)

// Style 一次生成运行的整体风格设定
type Style struct {
	Visual      string
	AspectRatio string
	Voice       string
	Lang        string
}

// Ref 参与编译的人物引用描述（句柄由编排器在提交时按提供商填入）
type Ref struct {
	Name   string
	Weight float64
}

// Input 单个场景的编译输入
type Input struct {
	SceneIndex int
	SceneCount int
	Script     string
	Duration   float64
	Camera     string
	Narration  bool
}

// Compiled 三种模态的请求。Speech 在旁白关闭或脚本为空时为 nil
// （该任务被整体跳过，而不是创建后再取消）。
type Compiled struct {
	Image  *provider.Request
	Video  *provider.Request
	Speech *provider.Request
}

// Compile 纯函数：相同输入必然产出相同请求，重试时可原样重发。
// 不做网络调用。
func Compile(in Input, refs []Ref, style Style) Compiled {
	base := in.Script
	if base == "" {
		base = fmt.Sprintf("instrumental section %d of %d, abstract visuals following the music", in.SceneIndex+1, in.SceneCount)
	}

	// 人物 token 在最前，保证各提供商权重一致（沿用一致性系统的约定）
	var parts []string
	for _, r := range refs {
		if r.Name != "" {
			parts = append(parts, fmt.Sprintf("featuring %s, consistent appearance throughout", r.Name))
		}
	}
	parts = append(parts, base)

	mood := moodFor(in.SceneIndex, in.SceneCount)
	camera := cameraPrompt(in.Camera)

	imagePrompt := strings.Join(parts, ". ") +
		fmt.Sprintf(". Style: %s. Mood: %s. High quality, cinematic still frame", orDefault(style.Visual, "cinematic"), mood)
	videoPrompt := strings.Join(parts, ". ") +
		fmt.Sprintf(". Style: %s. Mood: %s. Camera: %s. High quality, cinematic, %.0f seconds duration",
			orDefault(style.Visual, "cinematic"), mood, camera, in.Duration)

	c := Compiled{
		Image: &provider.Request{
			Modality:    provider.ModalityImage,
			SceneIndex:  in.SceneIndex,
			Prompt:      imagePrompt,
			AspectRatio: orDefault(style.AspectRatio, "16:9"),
		},
		Video: &provider.Request{
			Modality:        provider.ModalityVideo,
			SceneIndex:      in.SceneIndex,
			Prompt:          videoPrompt,
			DurationSeconds: in.Duration,
			AspectRatio:     orDefault(style.AspectRatio, "16:9"),
			CameraMovement:  camera,
		},
	}
	if in.Narration && in.Script != "" {
		c.Speech = &provider.Request{
			Modality:        provider.ModalitySpeech,
			SceneIndex:      in.SceneIndex,
			Prompt:          in.Script,
			DurationSeconds: in.Duration,
			Voice:           style.Voice,
			Lang:            style.Lang,
		}
	}
	return c
}

// moodFor 按场景在整条时间线中的位置推导情绪走向：
// 开场 -> 铺垫 -> 高潮 -> 收尾
func moodFor(index, count int) string {
	if count <= 1 {
		return "balanced, natural atmosphere"
	}
	pos := float64(index) / float64(count-1)
	switch {
	case pos < 0.25:
		return "anticipatory, hopeful atmosphere"
	case pos < 0.6:
		return "developing narrative, progressive"
	case pos < 0.85:
		return "climactic, intense, emotional peak"
	default:
		return "reflective, peaceful conclusion"
	}
}

func cameraPrompt(camera string) string {
	m := map[string]string{
		"zoom_in":  "slow zoom in",
		"zoom_out": "slow zoom out",
		"pan":      "panning shot",
		"tilt":     "tilting camera",
		"tracking": "tracking shot",
		"static":   "static shot",
		"handheld": "handheld camera",
		"crane":    "crane shot",
	}
	if p, ok := m[camera]; ok {
		return p
	}
	return "static shot"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
