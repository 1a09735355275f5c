package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/reclip/reclip/pricing"
	"github.com/reclip/reclip/provider"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 🧩 VariantRunner：单个 variant 的 clip 调度
// =============================================================================

// VariantRunner owns one variant's clip jobs and drives them according to
// the session strategy:
//
//   - segments: clips run concurrently under the shared admission gate.
//     One clip failing does not stop its siblings; partial results stand.
//   - seamless: clips run strictly in index order, each submission carrying
//     the previous clip's media output. A broken chain fails the remaining
//     clips immediately since their continuation context can never exist.
//
// The runner never writes the variant status directly during execution;
// it re-reduces from clip states when its jobs settle.
type VariantRunner struct {
	variant  *types.Variant
	strategy types.Strategy
	jobs     []*ClipJob

	mu       *sync.RWMutex
	onUpdate func()
	logger   *zap.Logger
}

func newVariantRunner(variant *types.Variant, strategy types.Strategy,
	client provider.Client, model types.ModelID, imageRef string,
	estimator *pricing.Estimator, cfg *Config, gate *semaphore.Weighted,
	mu *sync.RWMutex, onUpdate func(), onCost func(float64), logger *zap.Logger) *VariantRunner {

	r := &VariantRunner{
		variant:  variant,
		strategy: strategy,
		mu:       mu,
		onUpdate: onUpdate,
		logger:   logger.With(zap.Int("variant_index", variant.Index)),
	}
	for _, clip := range variant.Clips {
		r.jobs = append(r.jobs, newClipJob(clip, client, model, imageRef,
			estimator, cfg, gate, mu, onUpdate, onCost, r.logger))
	}
	return r
}

// Run drives all clip jobs to terminal states and settles the variant's
// aggregate status. It only returns a non-nil error on context
// cancellation; generation failures are recorded in the clip states.
func (r *VariantRunner) Run(ctx context.Context) error {
	if len(r.jobs) == 0 {
		// 零工作量：无内容可生成，平凡完成，不触发任何供应商调用
		r.settle()
		return nil
	}

	var err error
	switch r.strategy {
	case types.StrategySeamless:
		err = r.runChained(ctx)
	default:
		err = r.runConcurrent(ctx)
	}

	r.settle()
	return err
}

// runChained 按索引顺序串行执行，传递媒体延续引用。
func (r *VariantRunner) runChained(ctx context.Context) error {
	prevRef := ""
	for i, job := range r.jobs {
		ref, err := job.Run(ctx, prevRef)
		if err != nil {
			// 链条断裂：后续 clip 的延续上下文永远无法产生
			for _, rest := range r.jobs[i+1:] {
				rest.markSkipped("previous clip in chain failed")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		prevRef = ref
	}
	return nil
}

// runConcurrent 并发执行全部 clip，单个失败不打断其余。
func (r *VariantRunner) runConcurrent(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		job := job
		g.Go(func() error {
			// 失败结果已写入 clip 记录，这里不向上冒泡，
			// 让兄弟 clip 继续跑完
			_, _ = job.Run(gctx, "")
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// settle 将 clip 状态归并为 variant 终态。
func (r *VariantRunner) settle() {
	r.mu.Lock()
	r.variant.Status = r.variant.Aggregate()
	status := r.variant.Status
	r.mu.Unlock()

	if r.onUpdate != nil {
		r.onUpdate()
	}
	r.logger.Info("variant settled", zap.String("status", string(status)))
}
