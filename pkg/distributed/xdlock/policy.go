package xdlock

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
)

// 默认重试参数。
const (
	DefaultRetryDelay  = 400 * time.Millisecond
	DefaultRetryJitter = 400 * time.Millisecond
)

// Policy 锁获取策略。零值等价于 TryOnce。
type Policy struct {
	forever bool
	delay   time.Duration
	jitter  time.Duration
	onRetry func(attempt uint, err error)
}

// RetryForever 返回无限重试策略。
//
// 锁被占用时等待 delay 加上 [0, jitter) 的随机抖动后重试，直到获取成功。
// 只有后端故障（非竞争错误）或 ctx 结束才会返回错误。
// delay 或 jitter 非正时使用默认值 400ms。
func RetryForever(delay, jitter time.Duration) Policy {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	if jitter <= 0 {
		jitter = DefaultRetryJitter
	}
	return Policy{forever: true, delay: delay, jitter: jitter}
}

// TryOnce 返回单次尝试策略，竞争或故障都立即返回。
func TryOnce() Policy {
	return Policy{}
}

// OnRetry 返回一个在每次竞争重试时回调 fn 的策略副本。
func (p Policy) OnRetry(fn func(attempt uint, err error)) Policy {
	p.onRetry = fn
	return p
}

// String 返回策略名称。
func (p Policy) String() string {
	if p.forever {
		return "retry-forever"
	}
	return "try-once"
}

// acquire 按策略执行 attempt。
func (p Policy) acquire(ctx context.Context, attempt func(context.Context) (LockHandle, error)) (LockHandle, error) {
	if !p.forever {
		return attempt(ctx)
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.UntilSucceeded(),
		retry.Delay(p.delay),
		retry.MaxJitter(p.jitter),
		retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		// 只有竞争才重试，后端故障立即返回
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrLockHeld)
		}),
	}
	if p.onRetry != nil {
		opts = append(opts, retry.OnRetry(p.onRetry))
	}

	handle, err := retry.NewWithData[LockHandle](opts...).Do(func() (LockHandle, error) {
		return attempt(ctx)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return handle, nil
}
