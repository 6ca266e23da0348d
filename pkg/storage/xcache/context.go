package xcache

import (
	"context"
	"time"
)

// detachedCtx 是一个脱离原始 context 取消链的 context。
// 它保留原始 context 的 Value，但不继承其 Done/Err/Deadline。
// 用于 singleflight 和解锁场景，避免首个调用者取消影响其他等待者。
type detachedCtx struct {
	context.Context
}

func (c detachedCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c detachedCtx) Done() <-chan struct{}       { return nil }
func (c detachedCtx) Err() error                  { return nil }

// contextDetached 创建一个脱离原始取消链的 context。
func contextDetached(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return detachedCtx{Context: ctx}
}

// contextWithIndependentTimeout 脱离原始取消链，并按 timeout 设置独立超时。
// timeout <= 0 时只脱离取消链，不设置超时。
func contextWithIndependentTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := contextDetached(ctx)
	if timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, timeout)
}

// =============================================================================
// 降级标记
// =============================================================================

type remoteUnavailableKey struct{}

// withRemoteUnavailable 标记当前调用处于降级路径。
func withRemoteUnavailable(ctx context.Context) context.Context {
	return context.WithValue(ctx, remoteUnavailableKey{}, true)
}

// RemoteUnavailable 报告 producer 是否在远端不可达的降级路径上被调用。
//
// 降级路径上 producer 的结果只写入本地缓存，producer 可据此返回简化数据：
//
//	func(ctx context.Context) ([]byte, error) {
//	    if xcache.RemoteUnavailable(ctx) {
//	        return fallbackJSON, nil
//	    }
//	    return loadFromDB(ctx)
//	}
func RemoteUnavailable(ctx context.Context) bool {
	v, _ := ctx.Value(remoteUnavailableKey{}).(bool)
	return v
}
