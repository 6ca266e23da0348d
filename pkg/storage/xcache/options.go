package xcache

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xtier/pkg/distributed/xdlock"
	"github.com/omeyang/xtier/pkg/mq/xbus"
)

// 默认参数。
const (
	// DefaultLockPrefix 锁 key 前缀，避免与缓存 key 冲突。
	DefaultLockPrefix = "cachelock::"

	// DefaultLockTTL 锁租约时长。
	DefaultLockTTL = 10 * time.Minute

	// DefaultRenewInterval 租约续期间隔。
	DefaultRenewInterval = 30 * time.Second

	// DefaultUnlockTimeout 解锁的独立超时。
	DefaultUnlockTimeout = 5 * time.Second

	defaultInstrumentationName = "github.com/omeyang/xtier/xcache"
)

// LockKey 返回 cacheKey 对应的锁 key（使用默认前缀）。
func LockKey(cacheKey string) string {
	return DefaultLockPrefix + cacheKey
}

// =============================================================================
// Client 选项
// =============================================================================

// Option 配置 Client。
type Option func(*options)

type options struct {
	logger         *slog.Logger
	channel        string
	lockPrefix     string
	lockTTL        time.Duration
	renewInterval  time.Duration
	retryDelay     time.Duration
	retryJitter    time.Duration
	unlockTimeout  time.Duration
	renewTimeout   time.Duration
	driftFactor    float64
	timeoutFactor  float64
	reacquire      bool
	breakerFails   uint32
	breakerTimeout time.Duration
	processID      string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	onRefresh      func(key string, applied bool)
}

func defaultOptions() *options {
	return &options{
		logger:         slog.Default(),
		channel:        xbus.DefaultChannel,
		lockPrefix:     DefaultLockPrefix,
		lockTTL:        DefaultLockTTL,
		renewInterval:  DefaultRenewInterval,
		retryDelay:     xdlock.DefaultRetryDelay,
		retryJitter:    xdlock.DefaultRetryJitter,
		unlockTimeout:  DefaultUnlockTimeout,
		driftFactor:    xdlock.DefaultDriftFactor,
		timeoutFactor:  xdlock.DefaultTimeoutFactor,
		breakerFails:   defaultBreakerFailures,
		breakerTimeout: defaultBreakerTimeout,
	}
}

// WithLogger 设置 logger，nil 时忽略。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithChannel 设置失效广播频道。所有进程必须使用相同的频道。
func WithChannel(channel string) Option {
	return func(o *options) {
		if channel != "" {
			o.channel = channel
		}
	}
}

// WithLockPrefix 设置锁 key 前缀。
func WithLockPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.lockPrefix = prefix
		}
	}
}

// WithLockTTL 设置锁租约时长。
func WithLockTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTTL = d
		}
	}
}

// WithRenewInterval 设置租约续期间隔，应明显小于锁租约时长。
func WithRenewInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.renewInterval = d
		}
	}
}

// WithLockRetry 设置等待锁时的固定间隔和随机抖动上限。
func WithLockRetry(delay, jitter time.Duration) Option {
	return func(o *options) {
		if delay > 0 {
			o.retryDelay = delay
		}
		if jitter > 0 {
			o.retryJitter = jitter
		}
	}
}

// WithUnlockTimeout 设置解锁的独立超时。
func WithUnlockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.unlockTimeout = d
		}
	}
}

// WithRenewTimeout 设置单次续期调用的超时，默认等于续期间隔。
func WithRenewTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.renewTimeout = d
		}
	}
}

// WithLockFactors 设置锁的时钟漂移因子和单节点超时因子，非正值被忽略。
func WithLockFactors(drift, timeout float64) Option {
	return func(o *options) {
		if drift > 0 {
			o.driftFactor = drift
		}
		if timeout > 0 {
			o.timeoutFactor = timeout
		}
	}
}

// WithLockReacquire 续期时发现租约已过期且锁空闲，则重新占有锁。
// 默认关闭：过期后只记录日志，由写入后的失效广播修正。
func WithLockReacquire(enabled bool) Option {
	return func(o *options) {
		o.reacquire = enabled
	}
}

// WithRemoteBreaker 设置远端熔断参数，failures 为 0 时禁用熔断。
func WithRemoteBreaker(failures uint32, timeout time.Duration) Option {
	return func(o *options) {
		o.breakerFails = failures
		if timeout > 0 {
			o.breakerTimeout = timeout
		}
	}
}

// WithProcessID 覆盖自动生成的进程标识。
// 进程标识用于过滤自己发出的失效消息，多个 Client 不能共用。
func WithProcessID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.processID = id
		}
	}
}

// WithTracerProvider 设置 TracerProvider，默认使用全局 provider。
func WithTracerProvider(p trace.TracerProvider) Option {
	return func(o *options) {
		if p != nil {
			o.tracerProvider = p
		}
	}
}

// WithMeterProvider 设置 MeterProvider，默认使用全局 provider。
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(o *options) {
		if p != nil {
			o.meterProvider = p
		}
	}
}

// WithOnRefresh 设置收到其他进程的刷新通知并处理后的回调。
// applied 表示远端有值且已写入本地。回调在订阅 goroutine 中同步执行，不应阻塞。
func WithOnRefresh(fn func(key string, applied bool)) Option {
	return func(o *options) {
		o.onRefresh = fn
	}
}

// =============================================================================
// 调用选项
// =============================================================================

// CallOption 配置单次 GetOrInit / AttemptRegeneration 调用。
type CallOption func(*callOptions)

type callOptions struct {
	ttl time.Duration
}

func defaultCallOptions() callOptions {
	return callOptions{ttl: Forever}
}

// WithTTL 设置缓存 TTL，默认 Forever。
// 本地与远端使用同一 TTL，不足一秒的部分向上取整。ttl 必须为正。
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) {
		o.ttl = ttl
	}
}

func resolveCallOptions(opts []CallOption) (callOptions, error) {
	co := defaultCallOptions()
	for _, opt := range opts {
		opt(&co)
	}
	if co.ttl <= 0 {
		return co, ErrInvalidTTL
	}
	co.ttl = wholeSeconds(co.ttl)
	return co, nil
}
