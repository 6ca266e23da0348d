package xcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/omeyang/xtier/pkg/distributed/xdlock"
)

// =============================================================================
// GetOrInit
// =============================================================================

// GetOrInit 读取 key，缓存缺失时由全局唯一的一个调用方计算并写入。
//
// 流程：
//  1. 本地命中直接返回，无 I/O。
//  2. 远端值和 TTL 都存在时，以远端 TTL 写入本地并返回。
//  3. 以无限重试策略获取分布式锁，等待正在计算的进程完成。
//     锁后端不可达时进入降级模式：直接调用 producer，结果只写入本地。
//  4. 持锁后启动租约续期并再次检查远端，其他进程可能已在等待期间完成计算。
//  5. 调用 producer，以"不存在则写入"模式写入远端。写入因 key 已存在而失败时，
//     采用远端已有的值而不是自己的结果。
//  6. 停止续期，异步释放锁。
//
// 同一进程内相同 key 的并发调用被合并为一次加载，每个调用方拿到独立的副本。
//
// 错误：
//   - [ErrEmptyKey] / [ErrNilProducer] / [ErrInvalidTTL]: 输入无效
//   - [ErrNotInitialized] / [ErrClosed]: 生命周期错误
//   - [ErrProducerFailed] / [ErrProducerPanic]: producer 失败，不缓存任何值
//   - [ErrNilValue]: producer 返回了缺省值，不缓存
//   - ctx.Err(): 调用方 ctx 在结果就绪前结束，后台加载继续
//
// 远端故障、解析失败和解锁失败都被吸收并记录日志，不会返回给调用方。
func (c *Client) GetOrInit(ctx context.Context, key string, producer Producer, opts ...CallOption) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if producer == nil {
		return nil, ErrNilProducer
	}
	co, err := resolveCallOptions(opts)
	if err != nil {
		return nil, err
	}
	_, leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	leave()

	ctx, sp := c.obs.start(ctx, opGetOrInit, key)

	if v, ok := c.local.Fetch(key); ok {
		c.obs.count(outcomeLocalHit)
		sp.mark(outcomeLocalHit)
		sp.end(nil)
		return v, nil
	}

	res, err := c.guard.Do(ctx, key, func(ctx context.Context) (loadResult, error) {
		return c.load(ctx, key, producer, co)
	})
	sp.mark(res.outcome)
	sp.end(err)
	if err != nil {
		return nil, err
	}
	return res.value, nil
}

// load 在 Guard 内执行步骤 2 到 6，同一 key 同时只有一个 load 在运行。
func (c *Client) load(ctx context.Context, key string, producer Producer, co callOptions) (loadResult, error) {
	rt, leave, err := c.enter()
	if err != nil {
		return loadResult{}, err
	}
	defer leave()
	ctx, cancel := c.bind(ctx)
	defer cancel()

	if v, ok := c.refreshLocal(ctx, rt.remote, key); ok {
		c.obs.count(outcomeRemoteHit)
		return loadResult{value: v, outcome: outcomeRemoteHit}, nil
	}

	policy := xdlock.RetryForever(c.opts.retryDelay, c.opts.retryJitter)
	handle, err := rt.locks.Acquire(ctx, key, policy, c.lockOptions()...)
	if err != nil {
		if ctx.Err() != nil {
			return loadResult{}, ErrClosed
		}
		c.opts.logger.Warn("xcache: could not acquire cache lock, is remote down?",
			"key", key, "lock_key", c.lockKey(key), "error", err)
		return c.loadDegraded(ctx, key, producer, co)
	}

	renewer := xdlock.StartRenewer(handle, c.opts.renewInterval, c.opts.lockTTL, c.renewOptions()...)
	// 所有退出路径：先停止续期，再异步释放锁
	defer func() {
		renewer.Stop()
		c.unlockAsync(handle)
	}()

	// 等锁期间其他进程可能已经写入
	if v, ok := c.refreshLocal(ctx, rt.remote, key); ok {
		c.obs.count(outcomeRemoteHit)
		return loadResult{value: v, outcome: outcomeRemoteHit}, nil
	}

	value, err := c.produce(ctx, key, producer)
	if err != nil {
		return loadResult{}, err
	}

	res := rt.remote.Save(ctx, key, value, co.ttl, false)
	switch {
	case res.Success:
		c.saveLocal(key, value, co.ttl)
		// 租约可能在写入前已过期，其他进程可能也写过，通知它们重读
		if renewer.Expired() {
			c.opts.logger.Warn("xcache: lock lease may have lapsed before write, asking peers to refresh",
				"key", key, "lock_key", handle.Key())
			c.obs.lapsedPublished()
			c.publish(ctx, rt, key)
		}
		return loadResult{value: value, outcome: outcomeComputed}, nil

	case res.Current != nil:
		// 有人先写入了：采用远端的值，丢弃自己的结果
		ttl, ok := rt.remote.FetchTTL(ctx, key)
		if !ok {
			ttl = co.ttl
		}
		c.saveLocal(key, res.Current, ttl)
		c.obs.count(outcomeAdopted)
		return loadResult{value: res.Current, outcome: outcomeAdopted}, nil

	case res.Conflict:
		// 胜者的值不可用：本地不缓存自己的结果，下次读取重新走远端
		c.opts.logger.Warn("xcache: lost write race to an unreadable remote value, not caching locally",
			"key", key)
		return loadResult{value: value, outcome: outcomeComputed}, nil

	default:
		c.opts.logger.Warn("xcache: could not save to remote cache, caching locally only",
			"key", key, "error", res.Err)
		c.saveLocal(key, value, co.ttl)
		return loadResult{value: value, outcome: outcomeComputed}, nil
	}
}

// loadDegraded 远端不可达时的降级计算：不加锁、不写远端，结果只写入本地。
// 远端故障期间每个进程都会各自计算，这是相对于返回陈旧数据的取舍。
func (c *Client) loadDegraded(ctx context.Context, key string, producer Producer, co callOptions) (loadResult, error) {
	value, err := c.produce(withRemoteUnavailable(ctx), key, producer)
	if err != nil {
		return loadResult{}, err
	}
	c.saveLocal(key, value, co.ttl)
	c.obs.count(outcomeDegraded)
	return loadResult{value: value, outcome: outcomeDegraded}, nil
}

// =============================================================================
// AttemptRegeneration
// =============================================================================

// AttemptRegeneration 强制重新计算 key，只尝试一次。
//
// 以单次尝试策略获取锁，锁被占用或后端不可达时立即返回 [ErrLockFailed]，
// producer 不会被调用。持锁后调用 producer，覆盖写入远端，写入成功后更新本地缓存
// 并广播失效消息让其他进程重读。返回前等待锁释放完成。
//
// 任何失败（producer 错误、缺省值、远端写入失败）都以错误返回，且不修改本地缓存。
// 与 GetOrInit 不同，并发的 AttemptRegeneration 不做进程内合并：
// 同一时刻只有一个调用能拿到锁，其余调用得到 [ErrLockFailed]。
func (c *Client) AttemptRegeneration(ctx context.Context, key string, producer Producer, opts ...CallOption) (_ []byte, err error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if producer == nil {
		return nil, ErrNilProducer
	}
	co, err := resolveCallOptions(opts)
	if err != nil {
		return nil, err
	}
	rt, leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	ctx, sp := c.obs.start(ctx, opRegenerate, key)
	defer func() { sp.end(err) }()
	ctx, cancel := c.bind(ctx)
	defer cancel()

	handle, err := rt.locks.Acquire(ctx, key, xdlock.TryOnce(), c.lockOptions()...)
	if err != nil {
		sp.mark(outcomeLockFailed)
		return nil, fmt.Errorf("%w: %s: %w", ErrLockFailed, c.lockKey(key), err)
	}

	renewer := xdlock.StartRenewer(handle, c.opts.renewInterval, c.opts.lockTTL, c.renewOptions()...)
	defer func() {
		renewer.Stop()
		c.unlock(ctx, handle)
	}()

	value, err := c.produce(ctx, key, producer)
	if err != nil {
		return nil, err
	}

	res := rt.remote.Save(ctx, key, value, co.ttl, true)
	if !res.Success {
		cause := res.Err
		if cause == nil {
			cause = errors.New("write rejected")
		}
		return nil, fmt.Errorf("%w: %w", ErrRemoteWriteFailed, cause)
	}

	c.saveLocal(key, value, co.ttl)
	c.publish(ctx, rt, key)
	c.obs.count(outcomeRegenerate)
	sp.mark(outcomeRegenerate)
	return value, nil
}

// =============================================================================
// 内部辅助
// =============================================================================

// produce 调用 producer 并校验结果。
func (c *Client) produce(ctx context.Context, key string, producer Producer) ([]byte, error) {
	c.obs.producerCalled()
	value, err := safeCall(ctx, producer)
	if err != nil {
		c.opts.logger.Warn("xcache: could not compute latest cache value", "key", key, "error", err)
		if errors.Is(err, ErrProducerPanic) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProducerFailed, err)
	}
	if isAbsent(value) {
		c.opts.logger.Warn("xcache: cannot cache nil value", "key", key)
		return nil, ErrNilValue
	}
	if err := checkStored(value); err != nil {
		c.opts.logger.Warn("xcache: producer returned invalid JSON", "key", key)
		return nil, fmt.Errorf("%w: %w", ErrProducerFailed, err)
	}
	return value, nil
}

// publish 广播刷新通知，失败只记录日志：消息丢失只会延长其他进程的陈旧窗口。
func (c *Client) publish(ctx context.Context, rt *runtime, key string) {
	if err := rt.bus.Publish(ctx, key); err != nil {
		c.opts.logger.Warn("xcache: could not publish refresh", "key", key, "error", err)
	}
}

func (c *Client) lockOptions() []xdlock.MutexOption {
	return []xdlock.MutexOption{
		xdlock.WithKeyPrefix(c.opts.lockPrefix),
		xdlock.WithExpiry(c.opts.lockTTL),
		xdlock.WithDriftFactor(c.opts.driftFactor),
		xdlock.WithTimeoutFactor(c.opts.timeoutFactor),
		xdlock.WithGenValueFunc(c.lockToken),
		xdlock.WithSetNXOnExtend(c.opts.reacquire),
	}
}

func (c *Client) renewOptions() []xdlock.RenewOption {
	return []xdlock.RenewOption{
		xdlock.WithRenewLogger(c.opts.logger),
		xdlock.WithRenewTimeout(c.opts.renewTimeout),
	}
}

// lockToken 生成锁值：进程标识加随机后缀，可从锁值看出持有者。
func (c *Client) lockToken() (string, error) {
	return c.processID + ":" + uuid.NewString(), nil
}

func (c *Client) lockKey(key string) string {
	return c.opts.lockPrefix + key
}

// unlock 同步释放锁，使用独立超时，不受调用方取消影响。
func (c *Client) unlock(ctx context.Context, handle xdlock.LockHandle) {
	ctx, cancel := contextWithIndependentTimeout(ctx, c.opts.unlockTimeout)
	defer cancel()
	if err := handle.Unlock(ctx); err != nil {
		if errors.Is(err, xdlock.ErrNotLocked) {
			c.opts.logger.Info("xcache: cache lock already expired", "lock_key", handle.Key())
			return
		}
		c.opts.logger.Warn("xcache: could not release cache lock", "lock_key", handle.Key(), "error", err)
	}
}

// unlockAsync 在后台释放锁，调用方不等待。Quit 会等待它完成。
func (c *Client) unlockAsync(handle xdlock.LockHandle) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.unlock(context.Background(), handle)
	}()
}
