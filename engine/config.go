package engine

import (
	"time"

	"github.com/reclip/reclip/retry"
)

// =============================================================================
// ⚙️ 编排配置
// =============================================================================

// 默认值与供应商轮询节奏匹配：生成任务通常在 30s~5min 之间完成，
// 5s 轮询在延迟和请求量之间取平衡。
const (
	defaultMaxConcurrentClips = 3
	defaultPollInterval       = 5 * time.Second
	defaultClipTimeoutFactor  = 10.0
	defaultClipTimeoutMin     = 2 * time.Minute
	defaultSessionTimeout     = 30 * time.Minute
)

// Config controls orchestration behaviour for all sessions created by a
// Manager. The zero value is usable; Normalize fills in defaults.
type Config struct {
	// MaxConcurrentClips caps in-flight clip jobs per session, across all
	// of the session's variants.
	MaxConcurrentClips int64

	// PollInterval is the delay between consecutive provider status polls
	// for a single clip job.
	PollInterval time.Duration

	// ClipTimeoutFactor scales a clip's requested duration into a polling
	// deadline. ClipTimeoutMin is the floor applied afterwards.
	ClipTimeoutFactor float64
	ClipTimeoutMin    time.Duration

	// SessionTimeout bounds the whole session lifecycle. A session that is
	// still non-terminal when it fires fails with SESSION_TIMEOUT.
	SessionTimeout time.Duration

	// Retry governs clip-level submit/poll attempts. Nil selects
	// retry.DefaultPolicy.
	Retry *retry.Policy
}

// Normalize 为零值字段填充默认配置并返回自身，便于链式使用。
func (c *Config) Normalize() *Config {
	if c.MaxConcurrentClips <= 0 {
		c.MaxConcurrentClips = defaultMaxConcurrentClips
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ClipTimeoutFactor <= 0 {
		c.ClipTimeoutFactor = defaultClipTimeoutFactor
	}
	if c.ClipTimeoutMin <= 0 {
		c.ClipTimeoutMin = defaultClipTimeoutMin
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = defaultSessionTimeout
	}
	if c.Retry == nil {
		c.Retry = retry.DefaultPolicy()
	}
	return c
}

// clipTimeout 由 clip 请求时长推导轮询截止时间。
func (c *Config) clipTimeout(duration float64) time.Duration {
	t := time.Duration(duration*c.ClipTimeoutFactor) * time.Second
	if t < c.ClipTimeoutMin {
		t = c.ClipTimeoutMin
	}
	return t
}
