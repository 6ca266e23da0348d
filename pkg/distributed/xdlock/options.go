package xdlock

import (
	"log/slog"
	"strings"
	"time"
)

// validateKey 验证锁 key 是否有效。
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}

// =============================================================================
// Mutex 选项
// =============================================================================

// 默认值。
const (
	// DefaultExpiry 默认租约时长。
	// 需大于最坏情况下的阻塞时间（长 GC 停顿、CPU 密集循环）。
	DefaultExpiry = 10 * time.Minute

	// DefaultKeyPrefix 默认 key 前缀。
	DefaultKeyPrefix = "lock:"

	// DefaultDriftFactor 时钟漂移因子，有效期按 Expiry*DriftFactor 扣减。
	DefaultDriftFactor = 0.01

	// DefaultTimeoutFactor 单节点超时因子，单节点请求超时为 Expiry*TimeoutFactor。
	DefaultTimeoutFactor = 0.05
)

// MutexOption 定义锁实例的配置选项。
type MutexOption func(*mutexOptions)

// mutexOptions 锁实例配置。
type mutexOptions struct {
	KeyPrefix     string        // Key 前缀，默认 "lock:"
	Expiry        time.Duration // 租约时长，默认 10min
	DriftFactor   float64       // 时钟漂移因子，默认 0.01
	TimeoutFactor float64       // 单节点超时因子，默认 0.05
	GenValueFunc  func() (string, error)
	SetNXOnExtend bool
}

// defaultMutexOptions 返回默认的锁实例配置。
func defaultMutexOptions() *mutexOptions {
	return &mutexOptions{
		KeyPrefix:     DefaultKeyPrefix,
		Expiry:        DefaultExpiry,
		DriftFactor:   DefaultDriftFactor,
		TimeoutFactor: DefaultTimeoutFactor,
	}
}

// WithKeyPrefix 设置锁 key 的前缀，最终 key = prefix + key。
//
//	handle, _ := factory.TryLock(ctx, "homepage", xdlock.WithKeyPrefix("cachelock::"))
//	// 实际 key: "cachelock::homepage"
func WithKeyPrefix(prefix string) MutexOption {
	return func(o *mutexOptions) {
		o.KeyPrefix = prefix
	}
}

// WithExpiry 设置租约时长，非正值被忽略。
func WithExpiry(d time.Duration) MutexOption {
	return func(o *mutexOptions) {
		if d > 0 {
			o.Expiry = d
		}
	}
}

// WithDriftFactor 设置时钟漂移因子。值必须 > 0。
func WithDriftFactor(f float64) MutexOption {
	return func(o *mutexOptions) {
		if f > 0 {
			o.DriftFactor = f
		}
	}
}

// WithTimeoutFactor 设置单节点超时因子。值必须 > 0。
func WithTimeoutFactor(f float64) MutexOption {
	return func(o *mutexOptions) {
		if f > 0 {
			o.TimeoutFactor = f
		}
	}
}

// WithGenValueFunc 设置锁值（所有者标识）生成函数。
// 生成的值必须全局唯一。
func WithGenValueFunc(fn func() (string, error)) MutexOption {
	return func(o *mutexOptions) {
		if fn != nil {
			o.GenValueFunc = fn
		}
	}
}

// WithSetNXOnExtend Extend 时若锁已过期且 key 空闲，则用原锁值重新占有。
// 已被其他持有者占用时 Extend 仍然失败。
func WithSetNXOnExtend(b bool) MutexOption {
	return func(o *mutexOptions) {
		o.SetNXOnExtend = b
	}
}

// =============================================================================
// Renewer 选项
// =============================================================================

// RenewOption 配置 LeaseRenewer。
type RenewOption func(*renewOptions)

type renewOptions struct {
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func defaultRenewOptions(interval time.Duration) *renewOptions {
	return &renewOptions{
		logger:  slog.Default(),
		timeout: interval,
		now:     time.Now,
	}
}

// WithRenewLogger 设置续期失败时使用的 logger。
func WithRenewLogger(l *slog.Logger) RenewOption {
	return func(o *renewOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRenewTimeout 设置单次 Extend 调用的超时，默认等于续期间隔。
func WithRenewTimeout(d time.Duration) RenewOption {
	return func(o *renewOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}
