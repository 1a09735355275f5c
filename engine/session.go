package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/reclip/reclip/planner"
	"github.com/reclip/reclip/pricing"
	"github.com/reclip/reclip/provider"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 🎯 Orchestrator：会话级状态机
// =============================================================================
//
// pending → downloading → analyzing → segmenting → generating → completed/failed
//
// 阶段只向前推进；failed 可从任何非终态进入。进度按阶段分配区间：
// 下载 5–15、分析 20–50、分场 55、生成 60–100，且对外保证单调不减。

// Observer receives terminal lifecycle events for metrics export.
type Observer interface {
	SessionFinished(status types.SessionStatus, provider types.ProviderID, elapsed time.Duration)
	ClipFinished(provider types.ProviderID, model types.ModelID, status types.ClipStatus, cost float64)
}

// Orchestrator drives a single session end to end in its own goroutine.
// State reads (Snapshot, Detail) and writes share one session-level RWMutex.
type Orchestrator struct {
	session *types.Session
	client  provider.Client

	downloader Downloader
	segmenter  Segmenter
	analyzer   Analyzer
	prompts    PromptBuilder
	estimator  *pricing.Estimator
	observer   Observer

	cfg    *Config
	gate   *semaphore.Weighted
	logger *zap.Logger

	// persist 在每次可见状态变化后接收会话的深拷贝
	persist func(types.Session)

	mu        sync.RWMutex
	cancelFn  context.CancelFunc
	cancelled atomic.Bool
	analysis  string
	started   time.Time
	done      chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan types.StatusSnapshot
	nextSub int
}

// OrchestratorDeps 聚合编排器的协作者，由 Manager 注入。
type OrchestratorDeps struct {
	Client     provider.Client
	Downloader Downloader
	Segmenter  Segmenter
	Analyzer   Analyzer
	Prompts    PromptBuilder
	Estimator  *pricing.Estimator
	Observer   Observer
	Persist    func(types.Session)
}

// NewOrchestrator 构造编排器；会话记录归编排器所有，调用方之后只能
// 通过 Snapshot / Detail 读取。
func NewOrchestrator(session *types.Session, deps OrchestratorDeps, cfg *Config, logger *zap.Logger) *Orchestrator {
	persist := deps.Persist
	if persist == nil {
		persist = func(types.Session) {}
	}
	if deps.Estimator == nil {
		deps.Estimator = pricing.NewEstimator(nil, nil)
	}
	return &Orchestrator{
		session:    session,
		client:     deps.Client,
		downloader: deps.Downloader,
		segmenter:  deps.Segmenter,
		analyzer:   deps.Analyzer,
		prompts:    deps.Prompts,
		estimator:  deps.Estimator,
		observer:   deps.Observer,
		cfg:        cfg,
		gate:       semaphore.NewWeighted(cfg.MaxConcurrentClips),
		logger:     logger.With(zap.String("session_id", session.ID)),
		persist:    persist,
		done:       make(chan struct{}),
		subs:       make(map[int]chan types.StatusSnapshot),
	}
}

// Start 启动会话执行。重复调用是编程错误，由 Manager 保证不会发生。
func (o *Orchestrator) Start(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, o.cfg.SessionTimeout)
	o.mu.Lock()
	o.cancelFn = cancel
	o.started = time.Now()
	o.mu.Unlock()

	go o.run(ctx, cancel)
}

// Cancel 请求取消会话；对已终态的会话是 no-op。
func (o *Orchestrator) Cancel() {
	o.mu.RLock()
	terminal := o.session.Status.Terminal()
	cancel := o.cancelFn
	o.mu.RUnlock()
	if terminal || cancel == nil {
		return
	}
	o.cancelled.Store(true)
	cancel()
}

// Done 在会话到达终态后关闭。
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	defer close(o.done)

	if err := o.execute(ctx); err != nil {
		o.finishFailed(ctx, err)
	}
	o.emitTerminal()
	o.closeSubs()
}

// closeSubs 终态帧已广播完毕，关闭全部订阅流。
func (o *Orchestrator) closeSubs() {
	o.subMu.Lock()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
	o.subMu.Unlock()
}

// execute 按阶段推进；返回错误即会话失败。
func (o *Orchestrator) execute(ctx context.Context) error {
	o.mu.RLock()
	resume := len(o.session.Scenes) > 0 && len(o.session.Variants) > 0
	o.mu.RUnlock()

	// 用户重试：素材阶段的产物还在，直接回到生成阶段，
	// 已成功的 variant / clip 原样保留
	if resume {
		return o.generate(ctx)
	}

	o.setStage(types.SessionDownloading, 5, "Downloading source video")
	media, err := o.downloader.Download(ctx, o.session.SourceURL, o.session.ID)
	if err != nil {
		return err
	}
	o.setProgress(15, "Source video ready")

	o.setStage(types.SessionAnalyzing, 20, "Analyzing source content")
	analysis, err := o.analyzer.Analyze(ctx, media, o.session.ProductName)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.analysis = analysis
	o.mu.Unlock()
	o.setProgress(50, "Content analysis complete")

	o.setStage(types.SessionSegmenting, 55, "Detecting scenes")
	scenes, err := o.segmenter.DetectScenes(ctx, media)
	if err != nil || len(scenes) == 0 {
		if err != nil {
			o.logger.Warn("scene detection failed, falling back to whole clip", zap.Error(err))
		}
		scenes = wholeClipFallback(media)
	}
	o.mu.Lock()
	o.session.Scenes = scenes
	o.mu.Unlock()
	o.persistSnapshot()

	return o.generate(ctx)
}

// generate 构建（或复用）variant 计划并并发驱动全部 VariantRunner。
func (o *Orchestrator) generate(ctx context.Context) error {
	o.setStage(types.SessionGenerating, 60, "Generating clips")

	if err := o.buildVariants(); err != nil {
		return err
	}

	o.mu.RLock()
	variants := o.session.Variants
	strategy := o.session.Strategy
	model := o.session.Model
	imageRef := o.session.ProductImageRef
	o.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range variants {
		runner := newVariantRunner(v, strategy, o.client, model, imageRef,
			o.estimator, o.cfg, o.gate, &o.mu, o.onClipUpdate, o.addCost, o.logger)
		g.Go(func() error { return runner.Run(gctx) })
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		if o.cancelled.Load() {
			return types.NewUserCancelledError()
		}
		return types.NewSessionTimeoutError()
	}

	o.finishSettled()
	return nil
}

// buildVariants 在首次进入生成阶段时展开 clip 计划；重试路径下
// variants 已存在则直接复用。
func (o *Orchestrator) buildVariants() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.session.Variants) > 0 {
		return nil
	}

	plans, err := planner.Plan(o.session.Scenes, o.session.Strategy, o.client.Increment(o.session.Model))
	if err != nil {
		return err
	}

	sceneByIndex := make(map[int]types.Scene, len(o.session.Scenes))
	for _, s := range o.session.Scenes {
		sceneByIndex[s.Index] = s
	}

	for i := range plans {
		prompt, err := o.prompts.Build(PromptRequest{
			Scene:       sceneByIndex[plans[i].SceneIndex],
			Analysis:    o.analysis,
			ProductName: o.session.ProductName,
			Model:       o.session.Model,
			Chained:     plans[i].Chained,
		})
		if err != nil {
			return types.NewError(types.ErrInternal, "prompt construction failed").WithCause(err)
		}
		plans[i].Prompt = prompt
	}

	for v := 0; v < o.session.NumVariants; v++ {
		variant := &types.Variant{Index: v, Status: types.VariantPending}
		for _, p := range plans {
			variant.Clips = append(variant.Clips, &types.Clip{
				Index:      p.Index,
				SceneIndex: p.SceneIndex,
				Status:     types.ClipQueued,
				Prompt:     p.Prompt,
				Duration:   p.Duration,
			})
		}
		if len(variant.Clips) == 0 {
			variant.Status = types.VariantNoContent
		}
		o.session.Variants = append(o.session.Variants, variant)
	}
	return nil
}

// finishSettled 在所有 variant 终态后归并会话终态：
// 全部失败才算会话失败，部分成功仍是 completed。
func (o *Orchestrator) finishSettled() {
	o.mu.Lock()
	allFailed := len(o.session.Variants) > 0
	firstErr := ""
	for _, v := range o.session.Variants {
		if v.Status != types.VariantFailed {
			allFailed = false
		} else if firstErr == "" {
			for _, c := range v.Clips {
				if c.Error != "" {
					firstErr = c.Error
					break
				}
			}
		}
	}

	if allFailed {
		o.session.Status = types.SessionFailed
		o.session.ErrorMessage = firstErr
		o.session.CurrentStep = "Generation failed"
	} else {
		o.session.Status = types.SessionCompleted
		o.session.Progress = 100
		o.session.CurrentStep = "All variants settled"
	}
	o.session.UpdatedAt = time.Now()
	o.mu.Unlock()

	o.persistSnapshot()
	o.broadcast()
	o.logger.Info("session finished", zap.Bool("all_failed", allFailed))
}

// finishFailed 将结构化错误落到会话终态。
func (o *Orchestrator) finishFailed(ctx context.Context, err error) {
	// 区分取消来源：用户主动取消优先于看门狗超时
	if o.cancelled.Load() {
		err = types.NewUserCancelledError()
	} else if ctx.Err() == context.DeadlineExceeded && types.GetErrorCode(err) != types.ErrSessionTimeout {
		err = types.NewSessionTimeoutError()
	}

	o.mu.Lock()
	o.session.Status = types.SessionFailed
	o.session.ErrorMessage = errMessage(err)
	o.session.CurrentStep = "Failed"
	o.session.UpdatedAt = time.Now()
	o.mu.Unlock()

	o.persistSnapshot()
	o.broadcast()
	o.logger.Warn("session failed",
		zap.String("code", string(types.GetErrorCode(err))),
		zap.Error(err),
	)
}

// emitTerminal 上报终态指标。
func (o *Orchestrator) emitTerminal() {
	if o.observer == nil {
		return
	}
	o.mu.RLock()
	status := o.session.Status
	providerID := o.session.Provider
	model := o.session.Model
	elapsed := time.Since(o.started)
	type clipObs struct {
		status types.ClipStatus
		cost   float64
	}
	var clips []clipObs
	for _, v := range o.session.Variants {
		for _, c := range v.Clips {
			clips = append(clips, clipObs{c.Status, c.Cost})
		}
	}
	o.mu.RUnlock()

	o.observer.SessionFinished(status, providerID, elapsed)
	for _, c := range clips {
		o.observer.ClipFinished(providerID, model, c.status, c.cost)
	}
}

// onClipUpdate 在任意 clip 状态迁移后重算生成阶段进度并广播。
func (o *Orchestrator) onClipUpdate() {
	o.mu.Lock()
	total, terminal := 0, 0
	for _, v := range o.session.Variants {
		for _, c := range v.Clips {
			total++
			if c.Status.Terminal() {
				terminal++
			}
		}
	}
	if total > 0 && o.session.Status == types.SessionGenerating {
		p := 60 + 40*float64(terminal)/float64(total)
		if p > o.session.Progress {
			o.session.Progress = p
		}
		o.session.CurrentStep = fmt.Sprintf("Generating clips (%d/%d settled)", terminal, total)
	}
	o.session.UpdatedAt = time.Now()
	o.mu.Unlock()

	o.persistSnapshot()
	o.broadcast()
}

// addCost 成功 clip 的成本累计。
func (o *Orchestrator) addCost(cost float64) {
	o.mu.Lock()
	o.session.TotalCost += cost
	o.mu.Unlock()
}

// setStage 推进会话阶段；进度只升不降。
func (o *Orchestrator) setStage(status types.SessionStatus, progress float64, step string) {
	o.mu.Lock()
	o.session.Status = status
	if progress > o.session.Progress {
		o.session.Progress = progress
	}
	o.session.CurrentStep = step
	o.session.UpdatedAt = time.Now()
	o.mu.Unlock()

	o.persistSnapshot()
	o.broadcast()
	o.logger.Info("stage", zap.String("status", string(status)), zap.Float64("progress", progress))
}

func (o *Orchestrator) setProgress(progress float64, step string) {
	o.mu.Lock()
	if progress > o.session.Progress {
		o.session.Progress = progress
	}
	if step != "" {
		o.session.CurrentStep = step
	}
	o.session.UpdatedAt = time.Now()
	o.mu.Unlock()

	o.persistSnapshot()
	o.broadcast()
}

// Snapshot 返回轻量状态视图，供轮询端点使用。
func (o *Orchestrator) Snapshot() types.StatusSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return snapshotLocked(o.session)
}

// Detail 返回会话全量记录的深拷贝。
func (o *Orchestrator) Detail() types.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return cloneSession(o.session)
}

// Subscribe 注册进度订阅；返回的取消函数幂等。
// 慢消费者不阻塞编排：缓冲满时丢弃中间快照，终态快照总会补投。
func (o *Orchestrator) Subscribe() (<-chan types.StatusSnapshot, func()) {
	ch := make(chan types.StatusSnapshot, 16)

	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	// 立即补发当前状态，订阅者不必等下一次迁移
	ch <- o.Snapshot()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			o.subMu.Lock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
			o.subMu.Unlock()
		})
	}
	return ch, unsub
}

func (o *Orchestrator) broadcast() {
	snap := o.Snapshot()
	o.subMu.Lock()
	for _, ch := range o.subs {
		select {
		case ch <- snap:
		default:
			// 丢弃：消费者落后时只保最新
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	o.subMu.Unlock()
}

func (o *Orchestrator) persistSnapshot() {
	o.mu.RLock()
	snap := cloneSession(o.session)
	o.mu.RUnlock()
	o.persist(snap)
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

// wholeClipFallback 在分场失败或无结果时退化为整片单场景。
func wholeClipFallback(media *types.SourceMedia) []types.Scene {
	if media == nil || media.Duration <= 0 {
		return nil
	}
	return []types.Scene{{
		Index:    0,
		Start:    0,
		End:      media.Duration,
		Duration: media.Duration,
		Summary:  media.Title,
	}}
}

// snapshotLocked 要求调用方已持有会话读锁。
func snapshotLocked(s *types.Session) types.StatusSnapshot {
	completed := 0
	for _, v := range s.Variants {
		if v.Status == types.VariantCompleted || v.Status == types.VariantNoContent {
			completed++
		}
	}
	return types.StatusSnapshot{
		SessionID:         s.ID,
		Status:            s.Status,
		Progress:          s.Progress,
		CurrentStep:       s.CurrentStep,
		VariantsCompleted: completed,
		VariantsTotal:     len(s.Variants),
		TotalCost:         s.TotalCost,
		ErrorMessage:      s.ErrorMessage,
	}
}

// cloneSession 深拷贝会话记录，调用方可在锁外自由使用。
func cloneSession(s *types.Session) types.Session {
	out := *s
	out.Scenes = append([]types.Scene(nil), s.Scenes...)
	out.Variants = nil
	for _, v := range s.Variants {
		vc := &types.Variant{Index: v.Index, Status: v.Status}
		for _, c := range v.Clips {
			cc := *c
			vc.Clips = append(vc.Clips, &cc)
		}
		out.Variants = append(out.Variants, vc)
	}
	return out
}
