// Package retry 提供统一的重试策略。
// ClipJob 的瞬时失败（限流拒绝、轮询超时）都通过同一个 Policy 重试，
// 避免在各调用点散落各自的退避逻辑。
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/reclip/reclip/types"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxAttempts int           // 总尝试次数上限（含首次执行，1 表示不重试）
	BaseDelay   time.Duration // 初始延迟时间
	MaxDelay    time.Duration // 最大延迟时间
	Multiplier  float64       // 延迟时间倍增因子（指数退避）
	Jitter      bool          // 是否添加随机抖动（防止雪崩）

	// Transient 判断错误是否可重试。为空时使用 types.IsRetryable，
	// 即只有被明确标记为瞬时的错误才会触发重试。
	Transient func(error) bool

	// OnRetry 重试回调（attempt 为即将开始的第几次重试）
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 返回默认的重试策略：3 次尝试、2s 起步、指数翻倍。
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，瞬时失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，瞬时失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)

	// Attempts 返回上一次 Do / DoWithResult 的重试次数（不含首次执行）
	Attempts() int
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy   *Policy
	logger   *zap.Logger
	attempts int
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}

	// 参数校验
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 2 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if policy.Transient == nil {
		policy.Transient = types.IsRetryable
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 核心重试逻辑：指数退避 + 随机抖动 + 瞬时错误过滤
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any
	r.attempts = 0

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
			r.attempts = attempt
		}

		result, lastErr = fn()

		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		// 不可重试的错误立即返回
		if !r.policy.Transient(lastErr) {
			r.logger.Debug("error not transient", zap.Error(lastErr))
			return nil, lastErr
		}
	}

	// 所有尝试都失败了
	r.logger.Warn("retry attempts exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

// Attempts 实现 Retryer.Attempts
func (r *backoffRetryer) Attempts() int {
	return r.attempts
}

// calculateDelay 计算延迟时间
// 使用指数退避算法 + 可选的随机抖动
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.BaseDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	// 添加随机抖动（±25%），防止多个任务同时重试
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.BaseDelay) {
		delay = float64(r.policy.BaseDelay)
	}

	return time.Duration(delay)
}
