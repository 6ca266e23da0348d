package xcache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xtier/pkg/mq/xbus"
)

// 指标名称。
const (
	metricOperationTotal    = "xcache.operation.total"
	metricOperationDuration = "xcache.operation.duration"
)

// 操作名称。
const (
	opGetOrInit    = "xcache.GetOrInit"
	opRegenerate   = "xcache.AttemptRegeneration"
	opRefresh      = "xcache.Refresh"
	attrOperation  = "operation"
	attrOutcome    = "outcome"
	attrCacheKey   = "cache.key"
	attrRemoteDown = "cache.remote_unavailable"
)

// outcome 一次操作的结果分类，用作指标标签。
type outcome string

const (
	outcomeLocalHit   outcome = "local_hit"
	outcomeRemoteHit  outcome = "remote_hit"
	outcomeComputed   outcome = "computed"
	outcomeAdopted    outcome = "adopted"
	outcomeDegraded   outcome = "degraded"
	outcomeRegenerate outcome = "regenerated"
	outcomeRefreshed  outcome = "refreshed"
	outcomeMissing    outcome = "missing"
	outcomeLockFailed outcome = "lock_failed"
	outcomeError      outcome = "error"
)

// Stats 进程内累计计数。
type Stats struct {
	LocalHits        int64
	RemoteHits       int64
	ProducerCalls    int64
	DegradedComputes int64
	ConflictsAdopted int64
	Regenerations    int64
	RefreshesApplied int64
	RefreshesIgnored int64
	LapsedPublishes  int64
	LocalEntries     int

	// Bus 失效总线的发布与接收计数，Init 之前为零值。
	Bus xbus.Stats
}

// observer 负责 span、otel 指标和进程内计数。
type observer struct {
	tracer   trace.Tracer
	total    metric.Int64Counter
	duration metric.Float64Histogram

	localHits        atomic.Int64
	remoteHits       atomic.Int64
	producerCalls    atomic.Int64
	degradedComputes atomic.Int64
	conflictsAdopted atomic.Int64
	regenerations    atomic.Int64
	refreshesApplied atomic.Int64
	refreshesIgnored atomic.Int64
	lapsedPublishes  atomic.Int64
}

func newObserver(tp trace.TracerProvider, mp metric.MeterProvider) (*observer, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(defaultInstrumentationName)

	total, err := meter.Int64Counter(
		metricOperationTotal,
		metric.WithDescription("cache operations by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xcache: create counter failed: %w", err)
	}
	duration, err := meter.Float64Histogram(
		metricOperationDuration,
		metric.WithDescription("cache operation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("xcache: create histogram failed: %w", err)
	}

	return &observer{
		tracer:   tp.Tracer(defaultInstrumentationName),
		total:    total,
		duration: duration,
	}, nil
}

// span 一次被观测的操作。
type span struct {
	o       *observer
	ctx     context.Context
	span    trace.Span
	op      string
	start   time.Time
	outcome outcome
}

func (o *observer) start(ctx context.Context, op, key string) (context.Context, *span) {
	ctx, sp := o.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(attrCacheKey, key)),
	)
	return ctx, &span{o: o, ctx: ctx, span: sp, op: op, start: time.Now(), outcome: outcomeError}
}

// mark 记录本次调用的结果分类，用作 span 属性和指标标签。
func (s *span) mark(oc outcome) {
	s.outcome = oc
	if oc == outcomeDegraded {
		s.span.SetAttributes(attribute.Bool(attrRemoteDown, true))
	}
}

// end 结束 span 并记录指标。err 非 nil 时结果分类被视为失败。
func (s *span) end(err error) {
	if err != nil {
		if s.outcome != outcomeLockFailed {
			s.outcome = outcomeError
		}
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.SetAttributes(attribute.String(attrOutcome, string(s.outcome)))
	s.span.End()

	attrs := metric.WithAttributes(
		attribute.String(attrOperation, s.op),
		attribute.String(attrOutcome, string(s.outcome)),
	)
	// 指标记录不受调用方取消影响
	ctx := contextDetached(s.ctx)
	s.o.total.Add(ctx, 1, attrs)
	s.o.duration.Record(ctx, time.Since(s.start).Seconds(), attrs)
}

// count 累加一次事件。被合并的并发调用共享同一次事件，只计一次。
func (o *observer) count(oc outcome) {
	switch oc {
	case outcomeLocalHit:
		o.localHits.Add(1)
	case outcomeRemoteHit:
		o.remoteHits.Add(1)
	case outcomeAdopted:
		o.conflictsAdopted.Add(1)
	case outcomeDegraded:
		o.degradedComputes.Add(1)
	case outcomeRegenerate:
		o.regenerations.Add(1)
	case outcomeRefreshed:
		o.refreshesApplied.Add(1)
	case outcomeMissing:
		o.refreshesIgnored.Add(1)
	}
}

func (o *observer) producerCalled() {
	o.producerCalls.Add(1)
}

func (o *observer) lapsedPublished() {
	o.lapsedPublishes.Add(1)
}

func (o *observer) snapshot() Stats {
	return Stats{
		LocalHits:        o.localHits.Load(),
		RemoteHits:       o.remoteHits.Load(),
		ProducerCalls:    o.producerCalls.Load(),
		DegradedComputes: o.degradedComputes.Load(),
		ConflictsAdopted: o.conflictsAdopted.Load(),
		Regenerations:    o.regenerations.Load(),
		RefreshesApplied: o.refreshesApplied.Load(),
		RefreshesIgnored: o.refreshesIgnored.Load(),
		LapsedPublishes:  o.lapsedPublishes.Load(),
	}
}
