package xdlock

import "context"

// =============================================================================
// LockHandle
// =============================================================================

// LockHandle 表示一次成功的锁获取。
//
// 每次获取成功都会返回新的 handle，内部封装唯一的所有者标识，
// 只有持有该 handle 的调用方才能释放或续期这把锁。
type LockHandle interface {
	// Unlock 释放锁。
	//
	// 返回 [ErrNotLocked] 表示锁已过期或被其他获取覆盖。
	// ctx 已取消时使用独立的清理上下文尽力完成释放，避免锁残留到 TTL 到期。
	Unlock(ctx context.Context) error

	// Extend 续期锁，续期时长为创建锁时配置的 Expiry。
	//
	// 返回值：
	//   - nil: 续期成功
	//   - [ErrNotLocked]: 所有权已丢失
	//   - [ErrExtendFailed]: 续期操作失败（锁可能仍在，可重试）
	Extend(ctx context.Context) error

	// Key 返回锁的完整 key（包含前缀）。
	Key() string
}

// Factory 定义锁工厂接口。
type Factory interface {
	// TryLock 非阻塞式获取锁。
	// 成功时返回 LockHandle，锁被占用时返回 (nil, nil)，后端异常返回 error。
	TryLock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error)

	// Acquire 按策略获取锁。
	//
	// 错误：
	//   - [ErrLockHeld]: TryOnce 策略下锁被占用
	//   - context.Canceled / context.DeadlineExceeded: ctx 结束
	//   - 其他: 后端不可达等故障
	Acquire(ctx context.Context, key string, policy Policy, opts ...MutexOption) (LockHandle, error)

	// Close 关闭工厂。关闭后不能再获取新锁，已持有的 handle 仍可释放。
	Close(ctx context.Context) error

	// Health 健康检查。
	Health(ctx context.Context) error
}
