package xdlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// unlockCleanupTimeout 调用方 ctx 已结束时，释放锁使用的独立超时。
const unlockCleanupTimeout = 5 * time.Second

// =============================================================================
// Redis 工厂实现
// =============================================================================

// RedisFactory 基于 redsync 的锁工厂。
// 单节点为标准 Redis 锁；多节点使用 Redlock 算法（需过半成功）。
type RedisFactory struct {
	clients []redis.UniversalClient
	rs      *redsync.Redsync
	closed  atomic.Bool
}

var _ Factory = (*RedisFactory)(nil)

// NewRedisFactory 创建 Redis 锁工厂。
// 工厂不持有客户端的生命周期，Close 不会关闭传入的客户端。
func NewRedisFactory(clients ...redis.UniversalClient) (*RedisFactory, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}

	pools := make([]rsredis.Pool, len(clients))
	for i, client := range clients {
		if client == nil {
			return nil, errors.Join(ErrNilClient, errors.New("client at index "+strconv.Itoa(i)+" is nil"))
		}
		pools[i] = goredis.NewPool(client)
	}

	return &RedisFactory{
		clients: clients,
		rs:      redsync.New(pools...),
	}, nil
}

// TryLock 非阻塞式获取锁。锁被占用时返回 (nil, nil)。
func (f *RedisFactory) TryLock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error) {
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	mutex, fullKey := f.createMutex(key, opts...)

	if err := mutex.TryLockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		err = wrapRedisError(err)
		if errors.Is(err, ErrLockHeld) {
			return nil, nil
		}
		return nil, err
	}

	return &redisLockHandle{
		mutex: mutex,
		key:   fullKey,
	}, nil
}

// Acquire 按策略获取锁，见 [Policy]。
func (f *RedisFactory) Acquire(ctx context.Context, key string, policy Policy, opts ...MutexOption) (LockHandle, error) {
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return policy.acquire(ctx, func(ctx context.Context) (LockHandle, error) {
		handle, err := f.TryLock(ctx, key, opts...)
		if err != nil {
			return nil, err
		}
		if handle == nil {
			return nil, ErrLockHeld
		}
		return handle, nil
	})
}

// createMutex 创建 redsync.Mutex，返回 mutex 和完整 key。
func (f *RedisFactory) createMutex(key string, opts ...MutexOption) (*redsync.Mutex, string) {
	options := defaultMutexOptions()
	for _, opt := range opts {
		opt(options)
	}

	fullKey := options.KeyPrefix + key

	rsOpts := make([]redsync.Option, 0, 6)
	rsOpts = append(rsOpts,
		redsync.WithExpiry(options.Expiry),
		// 重试由 Policy 控制，redsync 内部只尝试一次
		redsync.WithTries(1),
		redsync.WithDriftFactor(options.DriftFactor),
		redsync.WithTimeoutFactor(options.TimeoutFactor),
	)
	if options.GenValueFunc != nil {
		rsOpts = append(rsOpts, redsync.WithGenValueFunc(options.GenValueFunc))
	}
	if options.SetNXOnExtend {
		rsOpts = append(rsOpts, redsync.WithSetNXOnExtend())
	}

	return f.rs.NewMutex(fullKey, rsOpts...), fullKey
}

// Close 关闭工厂。
func (f *RedisFactory) Close(_ context.Context) error {
	f.closed.Store(true)
	return nil
}

// Health 对所有 Redis 节点执行 PING。
func (f *RedisFactory) Health(ctx context.Context) error {
	if f.closed.Load() {
		return ErrFactoryClosed
	}
	for _, client := range f.clients {
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Redis LockHandle 实现
// =============================================================================

// redisLockHandle 实现 LockHandle 接口。
type redisLockHandle struct {
	mutex *redsync.Mutex
	key   string
}

// Unlock 释放锁。
//
// 设计决策: 允许在 factory 关闭后解锁，避免锁悬挂等待 TTL 过期。
func (h *redisLockHandle) Unlock(ctx context.Context) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), unlockCleanupTimeout)
		defer cancel()
	}

	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		wrappedErr := wrapRedisError(err)
		if errors.Is(wrappedErr, ErrLockExpired) {
			return ErrNotLocked
		}
		return wrappedErr
	}
	if !ok {
		return ErrNotLocked
	}
	return nil
}

// Extend 续期锁。
//
// 设计决策: ErrLockExpired 转为 ErrNotLocked（锁已失去），
// ErrExtendFailed 保持原语义（锁可能仍在），使调用方可区分两种情况。
func (h *redisLockHandle) Extend(ctx context.Context) error {
	ok, err := h.mutex.ExtendContext(ctx)
	if err != nil {
		wrappedErr := wrapRedisError(err)
		if errors.Is(wrappedErr, ErrLockExpired) {
			return ErrNotLocked
		}
		return wrappedErr
	}
	if !ok {
		return ErrNotLocked
	}
	return nil
}

// Key 返回锁的 key。
func (h *redisLockHandle) Key() string {
	return h.key
}

// =============================================================================
// 错误转换
// =============================================================================

// wrapRedisError 将 redsync 错误转换为 xdlock 错误，保留原始错误链。
func wrapRedisError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var errTaken *redsync.ErrTaken
	if errors.As(err, &errTaken) {
		return fmt.Errorf("%w: %w", ErrLockHeld, err)
	}

	if errors.Is(err, redsync.ErrFailed) {
		return fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	if errors.Is(err, redsync.ErrExtendFailed) {
		return fmt.Errorf("%w: %w", ErrExtendFailed, err)
	}
	if errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return fmt.Errorf("%w: %w", ErrLockExpired, err)
	}

	return err
}
