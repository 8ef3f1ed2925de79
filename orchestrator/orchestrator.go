package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"MusicToVideo-server/provider"
)

// ErrCancelled 运行被取消（项目级取消或 fail_fast 触发）
var ErrCancelled = errors.New("run cancelled")

// TimeoutError 单个任务超过其模态的轮询上限。按可重试处理，
// 进度倒退或停滞最终也会落到这里（规格上视同超时）。
type TimeoutError struct {
	Provider string
	Modality provider.Modality
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s job timed out after %s", e.Provider, e.Modality, e.After)
}

// Failure 回退链耗尽后的场景级失败，带场景号与模态，永不静默丢弃
type Failure struct {
	SceneIndex int
	Modality   provider.Modality
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("scene %d %s generation failed: %v", f.SceneIndex, f.Modality, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Config 编排器调参。构造时显式传入，内部不读全局配置。
type Config struct {
	Concurrency  int
	MaxAttempts  int
	PollInterval map[provider.Modality]time.Duration
	JobTimeout   map[provider.Modality]time.Duration
	ProjectTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	// true: 任一任务终败即取消其余任务
	FailFast bool
}

func (c *Config) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PollInterval == nil {
		c.PollInterval = map[provider.Modality]time.Duration{}
	}
	if c.JobTimeout == nil {
		c.JobTimeout = map[provider.Modality]time.Duration{}
	}
	if c.ProjectTimeout <= 0 {
		c.ProjectTimeout = 2 * time.Hour
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Minute
	}
}

func (c *Config) pollInterval(m provider.Modality) time.Duration {
	if d, ok := c.PollInterval[m]; ok && d > 0 {
		return d
	}
	return 3 * time.Second
}

func (c *Config) jobTimeout(m provider.Modality) time.Duration {
	if d, ok := c.JobTimeout[m]; ok && d > 0 {
		return d
	}
	return 10 * time.Minute
}

// Result 一次运行的汇总。所有任务都已处于终态。
type Result struct {
	Jobs     []*Job
	Failures []*Failure
}

// ResultFor 取某场景某模态的成功结果引用
func (r *Result) ResultFor(sceneIndex int, m provider.Modality) (string, bool) {
	for _, j := range r.Jobs {
		if j.SceneIndex == sceneIndex && j.Modality == m && j.State == JobSucceeded {
			return j.ResultRef, true
		}
	}
	return "", false
}

// Orchestrator 生成任务编排器：每个任务一套
// 提交/轮询/超时/重试/回退 生命周期，有界并发执行。
type Orchestrator struct {
	cfg    Config
	chains map[provider.Modality][]provider.Client

	// OnJobDone 任务到达终态后的回调（done 为已终态任务数）。
	// 在 Run 之前设置，运行期间不得修改。
	OnJobDone func(done, total int, j *Job)
}

func New(cfg Config, chains map[provider.Modality][]provider.Client) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{cfg: cfg, chains: chains}
}

// Run 并发执行全部任务直到所有任务到达终态，然后返回汇总。
// 返回的 error 只在 fail_fast 模式且存在失败时非空；
// best-effort 模式下失败记录在 Result.Failures 里由调用方决策。
func (o *Orchestrator) Run(ctx context.Context, jobs []*Job) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.ProjectTimeout)
	defer cancel()

	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for _, j := range jobs {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				o.runJob(runCtx, j)
			case <-runCtx.Done():
				// 取消时尚未开跑的任务直接按取消失败处理
				j.State = JobFailed
				j.Err = &Failure{SceneIndex: j.SceneIndex, Modality: j.Modality, Err: fmt.Errorf("%w: %v", ErrCancelled, runCtx.Err())}
			}

			mu.Lock()
			done++
			d := done
			if j.State == JobFailed && o.cfg.FailFast {
				cancel()
			}
			mu.Unlock()

			if o.OnJobDone != nil {
				o.OnJobDone(d, len(jobs), j)
			}
		}(j)
	}
	wg.Wait()

	res := &Result{Jobs: jobs}
	for _, j := range jobs {
		if j.State != JobFailed {
			continue
		}
		var f *Failure
		if !errors.As(j.Err, &f) {
			f = &Failure{SceneIndex: j.SceneIndex, Modality: j.Modality, Err: j.Err}
		}
		res.Failures = append(res.Failures, f)
	}

	if o.cfg.FailFast && len(res.Failures) > 0 {
		// 优先上抛触发取消的根因，而不是被取消波及的任务
		for _, f := range res.Failures {
			if !errors.Is(f, ErrCancelled) {
				return res, f
			}
		}
		return res, res.Failures[0]
	}
	return res, nil
}

// runJob 沿回退链依次尝试，直到成功或链耗尽
func (o *Orchestrator) runJob(ctx context.Context, j *Job) {
	chain := o.chains[j.Modality]
	if len(chain) == 0 {
		j.State = JobFailed
		j.Err = &Failure{SceneIndex: j.SceneIndex, Modality: j.Modality, Err: fmt.Errorf("no provider configured")}
		return
	}

	var lastErr error
	for _, p := range chain {
		err := o.runOnProvider(ctx, j, p)
		if err == nil {
			j.State = JobSucceeded
			return
		}
		lastErr = err
		if errors.Is(err, ErrCancelled) || provider.Fatal(err) {
			// 凭证错误或取消：不再尝试其他提供商
			break
		}
		log.Printf("[Orchestrator] scene %d %s: provider %s 不可用，切换下一候选: %v", j.SceneIndex, j.Modality, p.Name(), err)
	}

	j.State = JobFailed
	j.Err = &Failure{SceneIndex: j.SceneIndex, Modality: j.Modality, Err: lastErr}
}

// runOnProvider 在单个提供商上执行：注册引用 -> 提交 -> 轮询，
// 可重试错误按指数退避重试到 MaxAttempts。
// 返回错误时由调用方决定回退；尝试计数对每个提供商独立归零。
func (o *Orchestrator) runOnProvider(ctx context.Context, j *Job, p provider.Client) error {
	handles := make([]string, 0, len(j.Refs))
	for _, r := range j.Refs {
		h, err := r.HandleFor(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return err
		}
		handles = append(handles, h)
	}

	// 重发的是同一份编译结果，只有句柄按当前提供商填充
	req := *j.Request
	req.ReferenceHandles = handles

	j.Attempts = 0
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := o.backoff(ctx, attempt-1); err != nil {
				return err
			}
		}
		j.Attempts = attempt

		remoteID, err := p.Submit(ctx, &req)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			if provider.Fatal(err) || provider.FallbackEligible(err) {
				return err
			}
			lastErr = err
			continue
		}

		j.Provider = p.Name()
		j.RemoteID = remoteID
		j.State = JobSubmitted

		resultRef, err := o.pollJob(ctx, j, p)
		if err == nil {
			j.ResultRef = resultRef
			return nil
		}
		if errors.Is(err, ErrCancelled) {
			return err
		}
		if provider.Fatal(err) || provider.FallbackEligible(err) {
			return err
		}
		// 超时与瞬时错误都计一次尝试
		lastErr = err
	}
	return fmt.Errorf("attempts exhausted on %s: %w", p.Name(), lastErr)
}

// pollJob 固定间隔轮询直到终态、超时或取消。
// 挂起只发生在 select 等待上，不持有任何锁。
func (o *Orchestrator) pollJob(ctx context.Context, j *Job, p provider.Client) (string, error) {
	j.State = JobPolling

	interval := o.cfg.pollInterval(j.Modality)
	timeout := o.cfg.jobTimeout(j.Modality)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.cancelRemote(j, p)
			return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-deadline.C:
			return "", &TimeoutError{Provider: p.Name(), Modality: j.Modality, After: timeout}
		case <-ticker.C:
			pr, err := p.Poll(ctx, j.RemoteID)
			if err != nil {
				if ctx.Err() != nil {
					continue // 下一轮 select 捕获取消
				}
				if provider.Retryable(err) {
					continue // 轮询期间的瞬时错误不消耗尝试次数
				}
				return "", err
			}
			j.Progress = pr.Progress

			switch pr.Status {
			case provider.StatusSucceeded:
				return pr.ResultRef, nil
			case provider.StatusFailed:
				return "", fmt.Errorf("%s reported failure: %s", p.Name(), pr.Message)
			}
			// pending / processing: 继续轮询
		}
	}
}

// cancelRemote 尽力终止远端任务；提供商不支持则忽略
func (o *Orchestrator) cancelRemote(j *Job, p provider.Client) {
	c, ok := p.(provider.Canceler)
	if !ok || j.RemoteID == "" {
		return
	}
	cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Cancel(cctx, j.RemoteID); err != nil {
		log.Printf("[Orchestrator] 远端任务取消失败（忽略）: %v", err)
	}
}

// backoff 指数退避: base * 2^(n-1)，封顶 BackoffMax，可被取消打断
func (o *Orchestrator) backoff(ctx context.Context, n int) error {
	d := o.cfg.BackoffBase << (n - 1)
	if d > o.cfg.BackoffMax {
		d = o.cfg.BackoffMax
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-t.C:
		return nil
	}
}
