package xbus

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultHandlerTimeout = 5 * time.Second
	instrumentationName   = "github.com/omeyang/xtier/xbus"
)

// Option 配置 Bus。
type Option func(*options)

type options struct {
	channel        string
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	publishTimeout time.Duration
	handlerTimeout time.Duration
}

func defaultOptions() *options {
	return &options{
		channel:        DefaultChannel,
		logger:         slog.Default(),
		meterProvider:  otel.GetMeterProvider(),
		publishTimeout: defaultPublishTimeout,
		handlerTimeout: defaultHandlerTimeout,
	}
}

// WithChannel 设置广播频道，默认 "cacheChannel"。
func WithChannel(channel string) Option {
	return func(o *options) {
		if channel != "" {
			o.channel = channel
		}
	}
}

// WithLogger 设置 logger。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
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

// WithPublishTimeout 设置单次发布超时（调用方 ctx 无 deadline 时生效）。
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

// WithHandlerTimeout 设置单条消息处理的超时。
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handlerTimeout = d
		}
	}
}
