package xdlock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// 默认续期参数。
const (
	// DefaultRenewInterval 默认续期间隔。
	DefaultRenewInterval = 30 * time.Second
)

// LeaseRenewer 在受保护区段执行期间周期性续期锁租约。
//
// 每个 tick 计算距离上次成功续期经过的时间并调用 Extend。
// 失败只记录日志，不提前重试，下一个 tick 再试。
// 连续失败意味着租约可能已过期、其他进程可能已获取同一把锁，这是可接受的。
type LeaseRenewer struct {
	handle   LockHandle
	interval time.Duration
	ttl      time.Duration
	opts     *renewOptions

	mu           sync.Mutex
	lastExtended time.Time
	deadline     time.Time

	renewals atomic.Int64
	failures atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartRenewer 启动续期任务并立即返回。
// interval 非正时使用 DefaultRenewInterval，ttl 非正时使用 DefaultExpiry。
// 调用方必须在所有退出路径上调用 Stop。
func StartRenewer(handle LockHandle, interval, ttl time.Duration, opts ...RenewOption) *LeaseRenewer {
	if interval <= 0 {
		interval = DefaultRenewInterval
	}
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	options := defaultRenewOptions(interval)
	for _, opt := range opts {
		opt(options)
	}

	now := options.now()
	ctx, cancel := context.WithCancel(context.Background())
	r := &LeaseRenewer{
		handle:       handle,
		interval:     interval,
		ttl:          ttl,
		opts:         options,
		lastExtended: now,
		deadline:     now.Add(ttl),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	if handle == nil {
		close(r.done)
		return r
	}
	go r.loop(ctx)
	return r
}

func (r *LeaseRenewer) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.renew(ctx)
		}
	}
}

// renew 执行一次续期。
func (r *LeaseRenewer) renew(ctx context.Context) {
	now := r.opts.now()

	r.mu.Lock()
	elapsed := now.Sub(r.lastExtended)
	r.mu.Unlock()

	extendCtx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	err := r.handle.Extend(extendCtx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failures.Add(1)
		r.opts.logger.Warn("xdlock: lease renewal failed",
			"lock_key", r.handle.Key(), "elapsed", elapsed, "error", err)
		return
	}

	r.mu.Lock()
	// Extend 把租约重置为完整 ttl，估算截止时间随之前移 elapsed
	r.deadline = r.deadline.Add(elapsed)
	r.lastExtended = now
	r.mu.Unlock()
	r.renewals.Add(1)
}

// Stop 停止续期并等待后台任务退出。可重复调用。
func (r *LeaseRenewer) Stop() {
	r.stopOnce.Do(r.cancel)
	<-r.done
}

// EstimatedDeadline 返回估算的租约截止时间。
func (r *LeaseRenewer) EstimatedDeadline() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadline
}

// Expired 报告估算的租约是否已过期。
func (r *LeaseRenewer) Expired() bool {
	return !r.opts.now().Before(r.EstimatedDeadline())
}

// Renewals 返回成功续期次数。
func (r *LeaseRenewer) Renewals() int64 {
	return r.renewals.Load()
}

// Failures 返回续期失败次数。
func (r *LeaseRenewer) Failures() int64 {
	return r.failures.Load()
}
