package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/reclip/reclip/pricing"
	"github.com/reclip/reclip/provider"
	"github.com/reclip/reclip/retry"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 🎬 ClipJob：单个 clip 的生成状态机
// =============================================================================
//
// queued → submitted → polling → succeeded / failed
//
// 瞬时失败（限流、轮询超时、5xx 拒绝）在同一个 Run 内按重试策略重做
// submit+poll；永久失败立即落入 failed。终态幂等：对已终态的 job 再次
// 调用 Run 不会触发任何供应商请求。

// ClipJob drives one planned clip through submission and polling until it
// reaches a terminal state. All mutations of the underlying Clip record go
// through the session lock; the session snapshot readers never observe a
// half-applied transition.
type ClipJob struct {
	clip     *types.Clip
	client   provider.Client
	model    types.ModelID
	imageRef string

	estimator *pricing.Estimator
	cfg       *Config
	gate      *semaphore.Weighted

	mu       *sync.RWMutex // 会话级锁，序列化快照读与状态写
	onUpdate func()        // 每次状态迁移后触发（进度重算 + 持久化）
	onCost   func(float64) // succeeded 时恰好调用一次

	logger *zap.Logger

	accrued bool // 成本已累计，防止重复记账
}

// newClipJob 由 VariantRunner 构造；clip 记录归属调用方。
func newClipJob(clip *types.Clip, client provider.Client, model types.ModelID, imageRef string,
	estimator *pricing.Estimator, cfg *Config, gate *semaphore.Weighted,
	mu *sync.RWMutex, onUpdate func(), onCost func(float64), logger *zap.Logger) *ClipJob {
	return &ClipJob{
		clip:      clip,
		client:    client,
		model:     model,
		imageRef:  imageRef,
		estimator: estimator,
		cfg:       cfg,
		gate:      gate,
		mu:        mu,
		onUpdate:  onUpdate,
		onCost:    onCost,
		logger:    logger,
	}
}

// Run executes the clip job to a terminal state and returns the media
// reference on success. prevRef carries the preceding clip's output for
// seamless continuation submissions; it is empty otherwise.
//
// Running a job that is already terminal returns the recorded outcome
// without contacting the provider, which is what makes session-level retry
// safe to re-enter: succeeded clips are preserved as-is.
func (j *ClipJob) Run(ctx context.Context, prevRef string) (string, error) {
	j.mu.RLock()
	status := j.clip.Status
	mediaRef := j.clip.MediaRef
	lastErr := j.clip.Error
	j.mu.RUnlock()

	if status.Terminal() {
		if status == types.ClipSucceeded {
			return mediaRef, nil
		}
		return "", types.NewProviderRejectedError(string(j.client.Name()), lastErr, false)
	}

	// 并发闸门：跨 variant 的 in-flight clip 总数受此约束
	if err := j.gate.Acquire(ctx, 1); err != nil {
		return "", j.fail(types.NewUserCancelledError().WithCause(err))
	}
	defer j.gate.Release(1)

	policy := *j.cfg.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		j.recordRetry(err)
	}
	retryer := retry.NewBackoffRetryer(&policy, j.logger)

	res, err := retry.DoWithResultTyped[*provider.PollResult](retryer, ctx, func() (*provider.PollResult, error) {
		return j.attempt(ctx, prevRef)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", j.fail(types.NewUserCancelledError().WithCause(ctx.Err()))
		}
		return "", j.fail(err)
	}

	j.succeed(res)
	return res.MediaRef, nil
}

// attempt 执行一轮完整的 submit + poll，返回终态结果或可供重试器
// 分类的错误。
func (j *ClipJob) attempt(ctx context.Context, prevRef string) (*provider.PollResult, error) {
	j.mu.RLock()
	req := &provider.SubmitRequest{
		Prompt:       j.clip.Prompt,
		Duration:     j.clip.Duration,
		Model:        j.model,
		ImageRef:     j.imageRef,
		PrevMediaRef: prevRef,
	}
	timeout := j.cfg.clipTimeout(j.clip.Duration)
	j.mu.RUnlock()

	job, err := j.client.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	j.setStatus(types.ClipSubmitted)

	j.logger.Debug("clip submitted",
		zap.String("job_id", job.ID),
		zap.String("provider", string(job.Provider)),
		zap.Int("clip_index", j.clip.Index),
	)

	j.setStatus(types.ClipPolling)
	return j.poll(ctx, job, timeout)
}

// poll 以固定间隔轮询直到任务终态、轮询超时或取消。
// 单次网络错误不终止轮询，下一个 tick 继续。
func (j *ClipJob) poll(ctx context.Context, job *provider.Job, timeout time.Duration) (*provider.PollResult, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(j.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 取消时尽力通知供应商停止计费
			j.cancelRemote(job)
			return nil, types.NewUserCancelledError().WithCause(ctx.Err())

		case <-deadline.C:
			j.cancelRemote(job)
			return nil, types.NewProviderTimeoutError(string(j.client.Name()))

		case <-ticker.C:
			res, err := j.client.Poll(ctx, job)
			if err != nil {
				j.logger.Debug("poll attempt failed, will retry on next tick",
					zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			switch res.State {
			case provider.JobSucceeded:
				return res, nil
			case provider.JobFailed:
				if res.Err != nil {
					return nil, res.Err
				}
				return nil, types.NewProviderRejectedError(string(j.client.Name()), "generation failed", false)
			}
			// pending：继续等下一个 tick
		}
	}
}

// cancelRemote 尽力取消远端任务；失败只记日志。
func (j *ClipJob) cancelRemote(job *provider.Job) {
	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.client.Cancel(cctx, job); err != nil {
		j.logger.Warn("remote cancel failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// succeed 记录成功终态并恰好累计一次成本。
func (j *ClipJob) succeed(res *provider.PollResult) {
	j.mu.Lock()
	j.clip.Status = types.ClipSucceeded
	j.clip.MediaRef = res.MediaRef
	if res.Duration > 0 {
		j.clip.Duration = res.Duration
	}
	cost := 0.0
	if !j.accrued {
		cost = j.estimator.ClipCost(j.client.Name(), j.model, j.clip.Duration, res.Cost)
		j.clip.Cost = cost
		j.accrued = true
	}
	j.mu.Unlock()

	if cost > 0 && j.onCost != nil {
		j.onCost(cost)
	}
	j.notify()

	j.logger.Info("clip succeeded",
		zap.Int("clip_index", j.clip.Index),
		zap.Float64("cost", cost),
	)
}

// fail 记录失败终态并返回原错误，便于调用方直接透传。
func (j *ClipJob) fail(err error) error {
	j.mu.Lock()
	j.clip.Status = types.ClipFailed
	j.clip.Error = errMessage(err)
	j.mu.Unlock()
	j.notify()

	j.logger.Warn("clip failed",
		zap.Int("clip_index", j.clip.Index),
		zap.String("code", string(types.GetErrorCode(err))),
		zap.Error(err),
	)
	return err
}

// markSkipped 标记因前序 clip 失败而无法执行的 seamless 后续 clip。
func (j *ClipJob) markSkipped(reason string) {
	j.mu.Lock()
	if j.clip.Status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.clip.Status = types.ClipFailed
	j.clip.Error = reason
	j.mu.Unlock()
	j.notify()
}

func (j *ClipJob) setStatus(s types.ClipStatus) {
	j.mu.Lock()
	j.clip.Status = s
	j.mu.Unlock()
	j.notify()
}

func (j *ClipJob) recordRetry(err error) {
	j.mu.Lock()
	j.clip.Retries++
	j.clip.Status = types.ClipQueued
	j.mu.Unlock()
	j.notify()
}

func (j *ClipJob) notify() {
	if j.onUpdate != nil {
		j.onUpdate()
	}
}

// errMessage 提取对外展示的失败原因。
func errMessage(err error) string {
	var te *types.Error
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}
