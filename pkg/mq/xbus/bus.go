package xbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Handler 处理一条需要刷新的消息。
// 在订阅 goroutine 中顺序调用，ctx 带有 WithHandlerTimeout 配置的超时。
type Handler func(ctx context.Context, msg Message)

// Outcome 描述一条入站消息的处理结果。
type Outcome string

// 入站消息处理结果。
const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeIgnoredSelf    Outcome = "ignored_self"
	OutcomeIgnoredCommand Outcome = "ignored_command"
	OutcomeMalformed      Outcome = "malformed"
)

// Stats 广播统计。
type Stats struct {
	Published      int64
	PublishErrors  int64
	Delivered      int64
	IgnoredSelf    int64
	IgnoredCommand int64
	Malformed      int64
}

// Bus 基于 Redis pub/sub 的失效广播。
type Bus struct {
	pub       redis.UniversalClient
	sub       redis.UniversalClient
	processID string
	opts      *options
	messages  metric.Int64Counter

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
	closed atomic.Bool

	published      atomic.Int64
	publishErrors  atomic.Int64
	delivered      atomic.Int64
	ignoredSelf    atomic.Int64
	ignoredCommand atomic.Int64
	malformed      atomic.Int64
}

// New 创建 Bus。pub 用于发布，sub 专用于订阅。
// Bus 不拥有客户端的生命周期，Close 不会关闭它们。
func New(pub, sub redis.UniversalClient, processID string, opts ...Option) (*Bus, error) {
	if pub == nil || sub == nil {
		return nil, ErrNilClient
	}
	if processID == "" {
		return nil, ErrEmptyProcessID
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	messages, err := o.meterProvider.Meter(instrumentationName).Int64Counter(
		"xbus.messages",
		metric.WithDescription("invalidation messages by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xbus: create counter failed: %w", err)
	}

	return &Bus{
		pub:       pub,
		sub:       sub,
		processID: processID,
		opts:      o,
		messages:  messages,
	}, nil
}

// Channel 返回广播频道名。
func (b *Bus) Channel() string {
	return b.opts.channel
}

// ProcessID 返回本进程标识。
func (b *Bus) ProcessID() string {
	return b.processID
}

// =============================================================================
// 发布
// =============================================================================

// Publish 广播 cacheKey 的刷新通知。
func (b *Bus) Publish(ctx context.Context, cacheKey string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if cacheKey == "" {
		return ErrEmptyKey
	}

	payload, err := NewRefresh(cacheKey, b.processID).Encode()
	if err != nil {
		return fmt.Errorf("xbus: encode message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.publishTimeout)
		defer cancel()
	}

	if err := b.pub.Publish(ctx, b.opts.channel, payload).Err(); err != nil {
		b.publishErrors.Add(1)
		b.record(ctx, "publish_error")
		return fmt.Errorf("xbus: publish %s: %w", cacheKey, err)
	}
	b.published.Add(1)
	b.record(ctx, "published")
	return nil
}

// =============================================================================
// 订阅
// =============================================================================

// Listen 订阅广播频道，订阅确认后返回，消息在后台 goroutine 中分发给 h。
// 每个 Bus 只能 Listen 一次；Close 结束订阅。
func (b *Bus) Listen(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("xbus: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}
	if b.pubsub != nil {
		return ErrAlreadyListening
	}

	ps := b.sub.Subscribe(ctx, b.opts.channel)
	// 等待订阅确认，确保 Listen 返回后发布的消息不会丢失
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("xbus: subscribe %s: %w", b.opts.channel, err)
	}

	b.pubsub = ps
	b.done = make(chan struct{})
	go b.consume(ps.Channel(), b.done, h)
	return nil
}

func (b *Bus) consume(ch <-chan *redis.Message, done chan struct{}, h Handler) {
	defer close(done)
	for msg := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.handlerTimeout)
		b.Dispatch(ctx, []byte(msg.Payload), h)
		cancel()
	}
}

// Dispatch 按协议过滤一条原始负载，需要刷新时调用 h。
func (b *Bus) Dispatch(ctx context.Context, raw []byte, h Handler) Outcome {
	msg, err := Decode(raw)
	if err != nil {
		b.malformed.Add(1)
		b.record(ctx, string(OutcomeMalformed))
		b.opts.logger.Debug("xbus: drop malformed message", "channel", b.opts.channel, "error", err)
		return OutcomeMalformed
	}
	if msg.Command != CommandRefresh {
		b.ignoredCommand.Add(1)
		b.record(ctx, string(OutcomeIgnoredCommand))
		return OutcomeIgnoredCommand
	}
	// 本进程发出的消息：本地已持有最新值
	if msg.ProcessID == b.processID {
		b.ignoredSelf.Add(1)
		b.record(ctx, string(OutcomeIgnoredSelf))
		return OutcomeIgnoredSelf
	}

	h(ctx, msg)
	b.delivered.Add(1)
	b.record(ctx, string(OutcomeDelivered))
	return OutcomeDelivered
}

// Close 结束订阅并等待分发 goroutine 退出。可重复调用。
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	ps, done := b.pubsub, b.done
	b.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}

// Stats 返回统计快照。
func (b *Bus) Stats() Stats {
	return Stats{
		Published:      b.published.Load(),
		PublishErrors:  b.publishErrors.Load(),
		Delivered:      b.delivered.Load(),
		IgnoredSelf:    b.ignoredSelf.Load(),
		IgnoredCommand: b.ignoredCommand.Load(),
		Malformed:      b.malformed.Load(),
	}
}

func (b *Bus) record(ctx context.Context, outcome string) {
	b.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", b.opts.channel),
		attribute.String("outcome", outcome),
	))
}
