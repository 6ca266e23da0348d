package xcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xtier/pkg/distributed/xdlock"
	"github.com/omeyang/xtier/pkg/mq/xbus"
)

// Producer 计算缓存值，返回 JSON 编码的字节。
//
// 在远端不可达的降级路径上，ctx 带有标记，可用 [RemoteUnavailable] 判断。
type Producer func(ctx context.Context) ([]byte, error)

// clientState Client 生命周期状态。
type clientState int

const (
	stateNew clientState = iota
	stateReady
	stateClosed
)

// Client 两级缓存的进程级句柄。
//
// 一个 Client 持有本进程的本地缓存、进行中的调用表、远端存储、锁工厂和失效总线。
// 使用流程：
//
//	c := xcache.New(xcache.WithLogger(logger))
//	if err := c.Init(ctx, storeClient, subscriberClient); err != nil { ... }
//	defer c.Quit(ctx)
//	data, err := c.GetOrInit(ctx, "cms::homepage", producer, xcache.WithTTL(10*time.Second))
//
// Init 之后 Client 拥有两个 redis 连接，Quit 会关闭它们。
type Client struct {
	opts      *options
	processID string
	local     *LocalStore
	guard     *Guard[loadResult]
	obs       *observer
	obsErr    error

	// life 在 Quit 时取消，进行中的锁等待和 producer 随之结束。
	life     context.Context
	shutdown context.CancelFunc
	// inflight 跟踪进行中的操作和异步解锁，Quit 等待它们结束。
	inflight sync.WaitGroup

	mu     sync.RWMutex
	state  clientState
	store  redis.UniversalClient
	sub    redis.UniversalClient
	remote *RemoteStore
	locks  xdlock.Factory
	bus    *xbus.Bus
}

// runtime Init 之后才存在的组件。
type runtime struct {
	remote *RemoteStore
	locks  xdlock.Factory
	bus    *xbus.Bus
}

// New 创建未初始化的 Client。
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	id := o.processID
	if id == "" {
		id = uuid.NewString()
	}
	obs, err := newObserver(o.tracerProvider, o.meterProvider)
	life, shutdown := context.WithCancel(context.Background())
	return &Client{
		opts:      o,
		processID: id,
		local:     NewLocalStore(),
		guard:     NewGuard(cloneLoadResult),
		obs:       obs,
		obsErr:    err,
		life:      life,
		shutdown:  shutdown,
	}
}

// ProcessID 返回本进程标识，随失效消息发出，用于过滤自己的消息。
func (c *Client) ProcessID() string {
	return c.processID
}

// Init 绑定两个 redis 连接并开始监听失效广播。
//
// store 用于缓存命令、锁和发布；sub 专用于订阅（订阅连接不能执行普通命令）。
// 订阅确认后才返回。订阅失败时 Client 保持未初始化，可以重试。
//
// 错误：
//   - [ErrNilClient]: 任一连接为 nil
//   - [ErrAlreadyInitialized]: 重复调用
//   - [ErrClosed]: Client 已 Quit
func (c *Client) Init(ctx context.Context, store, sub redis.UniversalClient) error {
	if store == nil || sub == nil {
		return fmt.Errorf("%w: two clients are required, one for cache and publish, one for subscribe", ErrNilClient)
	}
	if c.obsErr != nil {
		return c.obsErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateReady:
		return ErrAlreadyInitialized
	case stateClosed:
		return ErrClosed
	}

	remote, err := NewRemoteStore(store,
		WithRemoteLogger(c.opts.logger),
		WithBreaker(c.opts.breakerFails, c.opts.breakerTimeout),
	)
	if err != nil {
		return err
	}
	locks, err := xdlock.NewRedisFactory(store)
	if err != nil {
		return err
	}
	bus, err := xbus.New(store, sub, c.processID,
		xbus.WithChannel(c.opts.channel),
		xbus.WithLogger(c.opts.logger),
		xbus.WithMeterProvider(c.opts.meterProvider),
	)
	if err != nil {
		return err
	}
	if err := bus.Listen(ctx, c.onRefreshMessage); err != nil {
		return err
	}

	c.store, c.sub = store, sub
	c.remote, c.locks, c.bus = remote, locks, bus
	c.state = stateReady
	return nil
}

// Quit 停止监听、清空本地缓存（取消所有淘汰定时器）并关闭两个 redis 连接。
//
// 进行中的锁等待和 producer 的 ctx 被取消；Quit 等待进行中的操作和异步解锁结束后
// 才关闭连接。可重复调用，未初始化时只清理本地状态。
func (c *Client) Quit(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	wasReady := c.state == stateReady
	c.state = stateClosed
	c.mu.Unlock()

	c.shutdown()
	c.inflight.Wait()
	c.local.Close()
	if !wasReady {
		return nil
	}

	var errs []error
	if err := c.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.locks.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.sub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs = append(errs, err)
	}
	if err := c.store.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// enter 登记一次进行中的操作，返回组件快照和结束回调。
// 登记与 Quit 的状态切换在同一把锁下，Quit 之后不会再有新的登记。
func (c *Client) enter() (*runtime, func(), error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.state {
	case stateNew:
		return nil, nil, ErrNotInitialized
	case stateClosed:
		return nil, nil, ErrClosed
	}
	c.inflight.Add(1)
	return &runtime{remote: c.remote, locks: c.locks, bus: c.bus}, c.inflight.Done, nil
}

// bind 返回一个在 Quit 时取消的 ctx。
func (c *Client) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Stats 返回进程内统计快照。
func (c *Client) Stats() Stats {
	var s Stats
	if c.obs != nil {
		s = c.obs.snapshot()
	}
	s.LocalEntries = c.local.Len()

	c.mu.RLock()
	bus := c.bus
	c.mu.RUnlock()
	if bus != nil {
		s.Bus = bus.Stats()
	}
	return s
}

// =============================================================================
// 刷新
// =============================================================================

// Refresh 从远端重新读取 key 的值和 TTL 并写入本地缓存。
//
// 这是失效消息触发的同一操作：总是重读远端的权威状态而不是应用增量，
// 因此可以安全地重复执行、乱序执行。远端没有值时本地保持不变，返回 false。
func (c *Client) Refresh(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	rt, leave, err := c.enter()
	if err != nil {
		return false
	}
	defer leave()

	ctx, sp := c.obs.start(ctx, opRefresh, key)
	_, ok := c.refreshLocal(ctx, rt.remote, key)
	oc := outcomeMissing
	if ok {
		oc = outcomeRefreshed
	}
	c.obs.count(oc)
	sp.mark(oc)
	sp.end(nil)
	return ok
}

// refreshLocal 并发读取远端值和 TTL，两者都存在时写入本地缓存并返回值。
func (c *Client) refreshLocal(ctx context.Context, remote *RemoteStore, key string) ([]byte, bool) {
	var (
		value   []byte
		ttl     time.Duration
		hasVal  bool
		hasTTL  bool
		g, gctx = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		value, hasVal = remote.Fetch(gctx, key)
		return nil
	})
	g.Go(func() error {
		ttl, hasTTL = remote.FetchTTL(gctx, key)
		return nil
	})
	_ = g.Wait() // 两个读取都已把故障降级为未命中

	if !hasVal || !hasTTL {
		return nil, false
	}
	c.saveLocal(key, value, ttl)
	return value, true
}

// saveLocal 写入本地缓存，失败只记录日志。
func (c *Client) saveLocal(key string, value []byte, ttl time.Duration) {
	if err := c.local.Save(key, value, ttl); err != nil {
		c.opts.logger.Warn("xcache: could not save to local cache", "key", key, "error", err)
	}
}

// onRefreshMessage 处理其他进程发出的刷新通知。
func (c *Client) onRefreshMessage(ctx context.Context, msg xbus.Message) {
	applied := c.Refresh(ctx, msg.CacheKey)
	if c.opts.onRefresh != nil {
		c.opts.onRefresh(msg.CacheKey, applied)
	}
}

// =============================================================================
// 共享结果
// =============================================================================

// loadResult 一次合并加载的结果。
type loadResult struct {
	value   []byte
	outcome outcome
}

func cloneLoadResult(r loadResult) loadResult {
	r.value = bytes.Clone(r.value)
	return r
}
