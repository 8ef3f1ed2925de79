package assembler

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// IncompleteTimelineError 某个场景缺少成功的视频素材。
// 编排器必须保证素材齐备后才调用合成，出现此错误说明上游不变量被破坏。
type IncompleteTimelineError struct {
	SceneIndex int
}

func (e *IncompleteTimelineError) Error() string {
	return fmt.Sprintf("timeline incomplete: scene %d has no video clip", e.SceneIndex)
}

// Clip 一个场景的素材与排期
type Clip struct {
	SceneIndex int
	Path       string  // 本地视频文件
	Start      float64 // 在时间线上的起始偏移（秒）
	Duration   float64 // 排定时长（秒）
	Narration  string  // 旁白音频（可为空）
}

// Input 一次合成的全部输入。合成是确定性的一次性批处理，失败不重试。
type Input struct {
	MusicPath          string
	TotalDuration      float64
	Clips              []Clip // 必须按场景序连续覆盖 [0, n)
	OutputPath         string
	TransitionDuration float64 // 相邻场景的固定淡入淡出时长
	MusicVolume        float64
	NarrationVolume    float64
}

// Assembler ffmpeg 合成器
type Assembler struct {
	Binary  string
	WorkDir string
}

func New(binary, workDir string) *Assembler {
	if binary == "" {
		binary = "ffmpeg"
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Assembler{Binary: binary, WorkDir: workDir}
}

// Assemble 把各场景片段、旁白与整条背景音乐合成为一个成片。
// 先校验完整性（每个场景必须有视频），任何缺口返回 IncompleteTimelineError。
func (a *Assembler) Assemble(ctx context.Context, in Input) (string, error) {
	if err := validate(in); err != nil {
		return "", err
	}

	args := buildArgs(in)
	log.Printf("[Assembler] %s %s", a.Binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, a.Binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg 合成失败: %v: %s", err, tail(string(out), 800))
	}
	return in.OutputPath, nil
}

func validate(in Input) error {
	if in.MusicPath == "" {
		return fmt.Errorf("music track is required")
	}
	if len(in.Clips) == 0 {
		return &IncompleteTimelineError{SceneIndex: 0}
	}
	for i, c := range in.Clips {
		if c.SceneIndex != i {
			// 场景序必须连续无缺口
			return &IncompleteTimelineError{SceneIndex: i}
		}
		if c.Path == "" {
			return &IncompleteTimelineError{SceneIndex: i}
		}
	}
	return nil
}

// buildArgs 构造单次 ffmpeg 调用:
//   - 每个片段按排定时长裁齐并加淡入淡出，然后 concat
//   - 旁白按场景起始偏移 adelay 后与背景音乐 amix
func buildArgs(in Input) []string {
	td := in.TransitionDuration
	if td <= 0 {
		td = 0.5
	}
	musicVol := in.MusicVolume
	if musicVol <= 0 {
		musicVol = 0.8
	}
	narrVol := in.NarrationVolume
	if narrVol <= 0 {
		narrVol = 1.0
	}

	args := []string{"-y"}
	for _, c := range in.Clips {
		args = append(args, "-i", c.Path)
	}
	musicIdx := len(in.Clips)
	args = append(args, "-i", in.MusicPath)

	narrIdx := make(map[int]int) // scene index -> ffmpeg input index
	next := musicIdx + 1
	for _, c := range in.Clips {
		if c.Narration != "" {
			args = append(args, "-i", c.Narration)
			narrIdx[c.SceneIndex] = next
			next++
		}
	}

	var fc strings.Builder
	for i, c := range in.Clips {
		fadeOut := c.Duration - td
		if fadeOut < 0 {
			fadeOut = 0
		}
		fc.WriteString(fmt.Sprintf(
			"[%d:v]trim=duration=%s,setpts=PTS-STARTPTS,scale=1280:720,setsar=1,fade=t=in:st=0:d=%s,fade=t=out:st=%s:d=%s[v%d];",
			i, ffNum(c.Duration), ffNum(td), ffNum(fadeOut), ffNum(td), i))
	}
	for i := range in.Clips {
		fc.WriteString(fmt.Sprintf("[v%d]", i))
	}
	fc.WriteString(fmt.Sprintf("concat=n=%d:v=1:a=0[vout];", len(in.Clips)))

	fc.WriteString(fmt.Sprintf("[%d:a]volume=%s[bgm];", musicIdx, ffNum(musicVol)))
	mixInputs := []string{"[bgm]"}
	for _, c := range in.Clips {
		idx, ok := narrIdx[c.SceneIndex]
		if !ok {
			continue
		}
		delayMs := int(c.Start * 1000)
		fc.WriteString(fmt.Sprintf("[%d:a]adelay=%d|%d,volume=%s[n%d];", idx, delayMs, delayMs, ffNum(narrVol), c.SceneIndex))
		mixInputs = append(mixInputs, fmt.Sprintf("[n%d]", c.SceneIndex))
	}
	if len(mixInputs) > 1 {
		fc.WriteString(fmt.Sprintf("%samix=inputs=%d:duration=first:dropout_transition=0[aout]", strings.Join(mixInputs, ""), len(mixInputs)))
	} else {
		fc.WriteString("[bgm]anull[aout]")
	}

	args = append(args,
		"-filter_complex", fc.String(),
		"-map", "[vout]",
		"-map", "[aout]",
		"-t", ffNum(in.TotalDuration),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", "24",
		"-c:a", "aac",
		in.OutputPath,
	)
	return args
}

// PlaceholderClip 生成一段指定时长的黑场占位片段，
// best-effort 模式下用来顶替生成失败的场景，维持时间线完整。
func (a *Assembler) PlaceholderClip(ctx context.Context, sceneIndex int, duration float64) (string, error) {
	out := filepath.Join(a.WorkDir, fmt.Sprintf("placeholder_%d.mp4", sceneIndex))
	args := []string{
		"-y",
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=1280x720:d=%s:r=24", ffNum(duration)),
		"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-t", ffNum(duration),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		out,
	}
	cmd := exec.CommandContext(ctx, a.Binary, args...)
	if b, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("占位片段生成失败: %v: %s", err, tail(string(b), 400))
	}
	return out, nil
}

// ProbeDuration 用 ffprobe 读取媒体时长（秒）
func (a *Assembler) ProbeDuration(ctx context.Context, path string) (float64, error) {
	probe := "ffprobe"
	if strings.HasSuffix(a.Binary, "ffmpeg") {
		probe = strings.TrimSuffix(a.Binary, "ffmpeg") + "ffprobe"
	}
	cmd := exec.CommandContext(ctx, probe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe 失败: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("解析时长失败: %w", err)
	}
	return d, nil
}

func ffNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func tail(s string, n int) string {
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
