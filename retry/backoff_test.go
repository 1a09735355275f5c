package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/reclip/reclip/types"
)

func fastPolicy(maxAttempts int) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
		Transient:   func(error) bool { return true },
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
	assert.Equal(t, 0, retryer.Attempts())
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil // 第三次成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 2, retryer.Attempts(), "记录两次重试")
}

func TestBackoffRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_DefaultTransientClassification(t *testing.T) {
	// 未配置 Transient 时走 types.IsRetryable：
	// 只有明确标记为瞬时的结构化错误才重试
	policy := fastPolicy(3)
	policy.Transient = nil
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	t.Run("transient provider rejection retries", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func() error {
			callCount++
			if callCount < 2 {
				return types.NewProviderRejectedError("kie.ai", "rate limited", true)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, callCount)
	})

	t.Run("permanent rejection fails immediately", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func() error {
			callCount++
			return types.NewProviderRejectedError("kie.ai", "invalid prompt", false)
		})
		assert.Error(t, err)
		assert.Equal(t, 1, callCount, "不应该重试")
	})

	t.Run("plain error fails immediately", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func() error {
			callCount++
			return errors.New("plain")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, callCount)
	})
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := &Policy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
		Transient:   func(error) bool { return true },
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return errors.New("error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.GreaterOrEqual(t, callCount, 1)
}

func TestBackoffRetryer_DelayCalculation(t *testing.T) {
	policy := &Policy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop()).(*backoffRetryer)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond}, // 初始延迟
		{2, 200 * time.Millisecond}, // 100 * 2^1
		{3, 400 * time.Millisecond}, // 100 * 2^2
		{4, 500 * time.Millisecond}, // 达到最大延迟
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, retryer.calculateDelay(tt.attempt))
	}
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	callbackCount := 0
	var lastAttempt int

	policy := fastPolicy(3)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbackCount++
		lastAttempt = attempt
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	_ = retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("test error")
		}
		return nil
	})

	assert.Equal(t, 2, callbackCount, "回调应该被调用两次")
	assert.Equal(t, 2, lastAttempt)
}

func TestDoWithResultTyped(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	val, err := DoWithResultTyped[string](retryer, context.Background(), func() (string, error) {
		callCount++
		if callCount < 2 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "done", val)

	val, err = DoWithResultTyped[string](retryer, context.Background(), func() (string, error) {
		return "", types.NewProviderRejectedError("kie.ai", "bad request", false)
	})
	assert.Error(t, err)
	assert.Equal(t, "", val)
}
