package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"MusicToVideo-server/assembler"
	"MusicToVideo-server/config"
	"MusicToVideo-server/models"
	"MusicToVideo-server/orchestrator"
	"MusicToVideo-server/prompt"
	"MusicToVideo-server/provider"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// 运行取消注册表（taskID -> cancelFunc）
var runCancelRegistry = struct {
	sync.RWMutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

// RegisterRunCancel 注册运行的 cancelFunc（由 HandleGenerateProject 在开始时调用）
func RegisterRunCancel(taskID string, cancel context.CancelFunc) {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	runCancelRegistry.m[taskID] = cancel
}

// UnregisterRunCancel 注销运行的 cancelFunc（运行结束时调用）
func UnregisterRunCancel(taskID string) {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	delete(runCancelRegistry.m, taskID)
}

// CancelRun 外部调用以取消正在执行的生成运行，返回是否实际找到并取消。
// 取消会传播到所有在途任务的轮询循环。
func CancelRun(taskID string) bool {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	if cancel, ok := runCancelRegistry.m[taskID]; ok {
		cancel()
		delete(runCancelRegistry.m, taskID)
		return true
	}
	return false
}

// Processor 消费生成运行队列，驱动 调度 -> 编排 -> 合成 全流程
type Processor struct {
	DB *gorm.DB
}

func NewProcessor(db *gorm.DB) *Processor {
	return &Processor{DB: db}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateProject, p.HandleGenerateProject)

	log.Printf("Starting Run Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// HandleGenerateProject 核心处理逻辑：一次项目生成运行
func (p *Processor) HandleGenerateProject(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	task, err := models.GetTaskByIDGorm(p.DB, payload.TaskID)
	if err != nil {
		return fmt.Errorf("task not found: %v", err)
	}
	project, err := models.GetProjectByID(payload.ProjectID)
	if err != nil {
		task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, "project not found")
		return nil
	}
	scenes, err := models.GetScenesByProjectGorm(p.DB, project.ID)
	if err != nil || len(scenes) == 0 {
		task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, "project has no scene schedule")
		return nil
	}
	dbRefs, err := models.GetCharacterRefsByProjectGorm(p.DB, project.ID)
	if err != nil {
		log.Printf("加载人物引用失败（按无引用继续）: %v", err)
	}

	log.Printf("Processing Run: %s | Project: %s | Scenes: %d", task.ID, project.ID, len(scenes))
	if err := task.UpdateStatus(p.DB, models.TaskStatusProcessing, nil, ""); err != nil {
		log.Printf("UpdateStatus processing failed: %v", err)
	}
	models.UpdateProjectStatus(project.ID, models.ProjectStatusGenerating)

	workDir := filepath.Join(config.AppConfig.FFmpeg.WorkDir, "pv_"+project.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, fmt.Sprintf("create work dir failed: %v", err))
		return nil
	}

	chains, err := buildChains(ctx, workDir)
	if err != nil {
		task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, fmt.Sprintf("provider init failed: %v", err))
		return nil
	}

	// 人物引用：拉取图片字节，预置历史句柄
	orchRefs, promptRefs := p.loadRefs(ctx, dbRefs)

	// 编译各场景请求并创建任务（旁白关闭的场景不创建 speech 任务）
	style := prompt.Style{
		Visual:      project.Style,
		AspectRatio: "16:9",
	}
	jobs := make([]*orchestrator.Job, 0, len(scenes)*3)
	for i := range scenes {
		s := &scenes[i]
		compiled := prompt.Compile(prompt.Input{
			SceneIndex: s.Idx,
			SceneCount: len(scenes),
			Script:     s.Script,
			Duration:   s.Duration,
			Camera:     s.Transition,
			Narration:  project.Narration,
		}, promptRefs, style)

		s.ImagePrompt = compiled.Image.Prompt
		s.VideoPrompt = compiled.Video.Prompt
		p.DB.Model(s).Updates(map[string]interface{}{
			"image_prompt": s.ImagePrompt,
			"video_prompt": s.VideoPrompt,
			"status":       models.SceneStatusProcessing,
			"updated_at":   time.Now(),
		})

		jobID := fmt.Sprintf("%s-%d", project.ID, s.Idx)
		jobs = append(jobs, orchestrator.NewJob(jobID+"-image", s.Idx, compiled.Image, orchRefs))
		jobs = append(jobs, orchestrator.NewJob(jobID+"-video", s.Idx, compiled.Video, orchRefs))
		if compiled.Speech != nil {
			jobs = append(jobs, orchestrator.NewJob(jobID+"-speech", s.Idx, compiled.Speech, nil))
		}
	}

	orch := orchestrator.New(orchestratorConfig(), chains)
	orch.OnJobDone = func(done, total int, j *orchestrator.Job) {
		// 合成阶段预留最后 10%
		progress := done * 90 / total
		msg := fmt.Sprintf("scene %d %s: %s", j.SceneIndex, j.Modality, j.State)
		if err := task.UpdateProgress(p.DB, progress, msg); err != nil {
			log.Printf("进度回写失败: %v", err)
		}
	}

	// 为运行创建可取消的子上下文并注册 cancel（外部 API 可通过 CancelRun 取消）
	runCtx, cancel := context.WithCancel(ctx)
	RegisterRunCancel(task.ID, cancel)
	defer UnregisterRunCancel(task.ID)

	res, runErr := orch.Run(runCtx, jobs)

	// 无论成败都回写新注册的引用句柄，后续运行可复用。
	// loadRefs 可能跳过下载失败的引用，必须按 ID 配对而不是按下标。
	byID := dbRefByID(dbRefs)
	for _, or := range orchRefs {
		dbRef, ok := byID[or.ID]
		if !ok {
			continue
		}
		if err := dbRef.UpdateHandles(p.DB, models.HandleMap(or.Handles())); err != nil {
			log.Printf("引用句柄回写失败: %v", err)
		}
	}

	if runCtx.Err() != nil && ctx.Err() == nil {
		// 用户主动取消
		task.UpdateStatus(p.DB, models.TaskStatusCancelled, p.buildResult(res, ""), "run cancelled by user")
		models.UpdateProjectStatus(project.ID, models.ProjectStatusFailed)
		return nil
	}
	if runErr != nil {
		// fail_fast 策略下的项目级失败
		log.Printf("[Error] 生成运行失败: %v", runErr)
		task.UpdateStatus(p.DB, models.TaskStatusFailed, p.buildResult(res, ""), runErr.Error())
		models.UpdateProjectStatus(project.ID, models.ProjectStatusFailed)
		return nil
	}

	// 收集素材、降级补位、合成时间线
	videoURL, asmErr := p.assembleProject(ctx, project, scenes, res, workDir)
	if asmErr != nil {
		log.Printf("[Error] 合成失败: %v", asmErr)
		task.UpdateStatus(p.DB, models.TaskStatusFailed, p.buildResult(res, ""), asmErr.Error())
		models.UpdateProjectStatus(project.ID, models.ProjectStatusFailed)
		return nil
	}

	// 成片已入 MinIO，本地中间产物不再需要
	cleanupWorkDir(workDir)

	task.UpdateProgress(p.DB, 100, "completed")
	task.UpdateStatus(p.DB, models.TaskStatusSuccess, p.buildResult(res, videoURL), "")
	log.Printf("Run %s completed successfully: %s", task.ID, videoURL)
	return nil
}

// cleanupWorkDir 删除运行工作目录（下载素材、占位片段、输出副本）
func cleanupWorkDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("清理工作目录失败: %v", err)
	}
}

// dbRefByID 人物引用按主键索引，供句柄回写配对
func dbRefByID(dbRefs []models.CharacterRef) map[string]*models.CharacterRef {
	m := make(map[string]*models.CharacterRef, len(dbRefs))
	for i := range dbRefs {
		m[dbRefs[i].ID] = &dbRefs[i]
	}
	return m
}

// loadRefs 把数据库里的人物引用装载为编排器引用（含句柄缓存预置）
func (p *Processor) loadRefs(ctx context.Context, dbRefs []models.CharacterRef) ([]*orchestrator.CharacterRef, []prompt.Ref) {
	orchRefs := make([]*orchestrator.CharacterRef, 0, len(dbRefs))
	promptRefs := make([]prompt.Ref, 0, len(dbRefs))
	for _, r := range dbRefs {
		img, err := fetchBytes(ctx, r.ImageUrl)
		if err != nil {
			log.Printf("参考图下载失败（跳过 %s）: %v", r.ID, err)
			continue
		}
		or := orchestrator.NewCharacterRef(r.ID, r.Name, img, r.Weight)
		for prov, h := range r.Handles {
			or.SeedHandle(prov, h)
		}
		orchRefs = append(orchRefs, or)
		promptRefs = append(promptRefs, prompt.Ref{Name: r.Name, Weight: r.Weight})
	}
	return orchRefs, promptRefs
}

// assembleProject 下载成功素材、上传 MinIO、对缺口做降级补位，然后合成
func (p *Processor) assembleProject(ctx context.Context, project *models.Project, scenes []models.Scene, res *orchestrator.Result, workDir string) (string, error) {
	asm := assembler.New(config.AppConfig.FFmpeg.Binary, workDir)
	clips := make([]assembler.Clip, 0, len(scenes))

	for i := range scenes {
		s := &scenes[i]

		// 关键帧不参与 ffmpeg 合成，远端结果直接流式转存，不落本地
		if ref, ok := res.ResultFor(s.Idx, provider.ModalityImage); ok {
			if url, err := uploadArtifact(ctx, ref, fmt.Sprintf("scenes/%s/image.png", s.ID)); err == nil {
				s.UpdateArtifact(p.DB, "image_path", url)
			} else {
				log.Printf("场景 %d 关键帧转存失败: %v", s.Idx, err)
			}
		}

		var narrLocal string
		if ref, ok := res.ResultFor(s.Idx, provider.ModalitySpeech); ok {
			local, err := ensureLocal(ctx, ref, workDir, fmt.Sprintf("narration_%d.mp3", s.Idx))
			if err != nil {
				log.Printf("旁白下载失败（场景 %d 无旁白）: %v", s.Idx, err)
			} else {
				narrLocal = local
				if url, err := UploadLocalFile(local, fmt.Sprintf("scenes/%s/narration.mp3", s.ID)); err == nil {
					s.UpdateArtifact(p.DB, "audio_path", url)
				}
			}
		}

		var videoLocal string
		if ref, ok := res.ResultFor(s.Idx, provider.ModalityVideo); ok {
			local, err := ensureLocal(ctx, ref, workDir, fmt.Sprintf("scene_%d.mp4", s.Idx))
			if err != nil {
				return "", fmt.Errorf("场景 %d 视频下载失败: %w", s.Idx, err)
			}
			videoLocal = local
			if url, err := UploadLocalFile(local, fmt.Sprintf("scenes/%s/video.mp4", s.ID)); err == nil {
				s.UpdateArtifact(p.DB, "video_path", url)
			}
			s.UpdateStatus(p.DB, models.SceneStatusCompleted)
		} else {
			// best-effort: 用黑场占位维持时间线完整（合成前置条件）
			placeholder, err := asm.PlaceholderClip(ctx, s.Idx, s.Duration)
			if err != nil {
				return "", fmt.Errorf("场景 %d 占位生成失败: %w", s.Idx, err)
			}
			videoLocal = placeholder
			s.UpdateStatus(p.DB, models.SceneStatusDegraded)
			log.Printf("场景 %d 视频生成失败，已降级为占位片段", s.Idx)
		}

		clips = append(clips, assembler.Clip{
			SceneIndex: s.Idx,
			Path:       videoLocal,
			Start:      s.StartAt,
			Duration:   s.Duration,
			Narration:  narrLocal,
		})
	}

	models.UpdateProjectStatus(project.ID, models.ProjectStatusAssembling)

	musicLocal, err := ensureLocal(ctx, project.MusicUrl, workDir, "music"+musicExt(project.MusicUrl))
	if err != nil {
		return "", fmt.Errorf("音乐下载失败: %w", err)
	}

	outPath := filepath.Join(workDir, "output.mp4")
	if _, err := asm.Assemble(ctx, assembler.Input{
		MusicPath:          musicLocal,
		TotalDuration:      project.MusicDuration,
		Clips:              clips,
		OutputPath:         outPath,
		TransitionDuration: 0.5,
	}); err != nil {
		return "", err
	}

	finalURL, err := UploadLocalFile(outPath, fmt.Sprintf("projects/%s/output.mp4", project.ID))
	if err != nil {
		return "", fmt.Errorf("成片上传失败: %w", err)
	}
	if err := models.UpdateProjectVideo(project.ID, finalURL); err != nil {
		log.Printf("项目成片地址回写失败: %v", err)
	}
	return finalURL, nil
}

// buildResult 汇总运行结果（成功数、失败明细、降级场景）
func (p *Processor) buildResult(res *orchestrator.Result, videoURL string) *models.TaskResult {
	if res == nil {
		return nil
	}
	out := &models.TaskResult{VideoUrl: videoURL, TotalJobs: len(res.Jobs)}
	degraded := map[int]bool{}
	for _, j := range res.Jobs {
		if j.State == orchestrator.JobSucceeded {
			out.CompletedJobs++
		}
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, models.SceneFailure{
			SceneIndex: f.SceneIndex,
			Modality:   string(f.Modality),
			Reason:     f.Err.Error(),
		})
		if f.Modality == provider.ModalityVideo && !degraded[f.SceneIndex] {
			degraded[f.SceneIndex] = true
			out.DegradedScenes = append(out.DegradedScenes, f.SceneIndex)
		}
	}
	return out
}

// buildChains 按配置的固定优先级构造每种模态的提供商回退链
func buildChains(ctx context.Context, workDir string) (map[provider.Modality][]provider.Client, error) {
	cfg := config.AppConfig

	available := map[string]provider.Client{}
	if cfg.Providers.PiAPI.APIKey != "" {
		available["piapi"] = provider.NewPiAPI(cfg.Providers.PiAPI.BaseURL, cfg.Providers.PiAPI.APIKey)
	}
	if cfg.Providers.Gemini.APIKey != "" {
		g, err := provider.NewGemini(ctx, cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.ImageModel, cfg.Providers.Gemini.VideoModel, workDir)
		if err != nil {
			return nil, err
		}
		available["gemini"] = g
	}
	if cfg.Providers.FishAudio.APIKey != "" {
		available["fish_audio"] = provider.NewFishAudio(cfg.Providers.FishAudio.BaseURL, cfg.Providers.FishAudio.APIKey, cfg.Providers.FishAudio.Voice, workDir)
	}
	if cfg.Providers.Worker.Addr != "" {
		available["worker"] = provider.NewWorker(cfg.Providers.Worker.Addr)
	}

	pick := func(names []string) []provider.Client {
		var chain []provider.Client
		for _, n := range names {
			if c, ok := available[n]; ok {
				chain = append(chain, c)
			}
		}
		return chain
	}

	chains := map[provider.Modality][]provider.Client{
		provider.ModalityImage:  pick(cfg.Pipeline.ImageChain),
		provider.ModalityVideo:  pick(cfg.Pipeline.VideoChain),
		provider.ModalitySpeech: pick(cfg.Pipeline.SpeechChain),
	}
	if len(chains[provider.ModalityImage]) == 0 || len(chains[provider.ModalityVideo]) == 0 {
		return nil, errors.New("no image/video provider configured")
	}
	return chains, nil
}

// orchestratorConfig 把全局配置折算成编排器的显式构造参数
func orchestratorConfig() orchestrator.Config {
	pc := config.AppConfig.Pipeline
	return orchestrator.Config{
		Concurrency: pc.Concurrency,
		MaxAttempts: pc.MaxAttempts,
		PollInterval: map[provider.Modality]time.Duration{
			provider.ModalityImage:  time.Duration(pc.ImagePollSeconds) * time.Second,
			provider.ModalityVideo:  time.Duration(pc.VideoPollSeconds) * time.Second,
			provider.ModalitySpeech: time.Duration(pc.SpeechPollSeconds) * time.Second,
		},
		JobTimeout: map[provider.Modality]time.Duration{
			provider.ModalityImage:  time.Duration(pc.ImageTimeoutMinutes) * time.Minute,
			provider.ModalityVideo:  time.Duration(pc.VideoTimeoutMinutes) * time.Minute,
			provider.ModalitySpeech: time.Duration(pc.SpeechTimeoutMinutes) * time.Minute,
		},
		ProjectTimeout: time.Duration(pc.ProjectTimeoutMinutes) * time.Minute,
		FailFast:       pc.FailFast,
	}
}

// fetchBytes 拉取 URL 内容（参考图等小文件）
func fetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// remoteRef 结果引用是远端 URL 还是本地文件路径
func remoteRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// uploadArtifact 把结果引用送入 MinIO：远端 URL 流式转存，本地文件整体上传
func uploadArtifact(ctx context.Context, ref, objectName string) (string, error) {
	if !remoteRef(ref) {
		return UploadLocalFile(ref, objectName)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return UploadToMinIO(resp.Body, objectName, resp.ContentLength)
}

// ensureLocal 把结果引用落到本地：HTTP(S) URL 下载，本地路径原样返回
func ensureLocal(ctx context.Context, ref, dir, name string) (string, error) {
	if !remoteRef(ref) {
		if _, err := os.Stat(ref); err != nil {
			return "", fmt.Errorf("local artifact missing: %w", err)
		}
		return ref, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", err
	}
	return path, nil
}

func musicExt(url string) string {
	ext := filepath.Ext(strings.Split(url, "?")[0])
	if ext == "" {
		return ".mp3"
	}
	return ext
}
