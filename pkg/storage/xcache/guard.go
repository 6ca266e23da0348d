package xcache

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Guard 进程内的调用合并器（stampede 保护）。
//
// 同一 key 的并发调用只会触发一次 fn，所有调用方得到同一结果。
// 结果被多个调用方共享时，每个调用方都拿到 clone 出来的独立副本，
// 一个调用方修改返回值不会影响其他调用方。错误原样共享。
//
// fn 运行在脱离调用方取消链的 context 上：单个调用方取消只结束它自己的等待，
// 后台计算继续供其他等待者使用。fn 结束后 key 被移除，之后的调用会重新执行。
type Guard[T any] struct {
	group singleflight.Group
	clone func(T) T
}

// NewGuard 创建 Guard。clone 为 nil 时共享结果不做复制，适合不可变的 T。
func NewGuard[T any](clone func(T) T) *Guard[T] {
	return &Guard[T]{clone: clone}
}

// Do 以 key 合并执行 fn。
//
// 错误：
//   - [ErrEmptyKey]: key 为空，fn 不会被调用
//   - [ErrProducerPanic]: fn 发生 panic
//   - ctx.Err(): 调用方自己的 ctx 在结果就绪前结束
//   - 其他: fn 返回的错误
func (g *Guard[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if key == "" {
		return zero, ErrEmptyKey
	}
	if fn == nil {
		return zero, ErrNilProducer
	}

	ch := g.group.DoChan(key, func() (any, error) {
		sfCtx, cancel := contextWithIndependentTimeout(ctx, 0)
		defer cancel()
		return safeCall(sfCtx, fn)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			return zero, result.Err
		}
		v, ok := result.Val.(T)
		if !ok {
			return zero, errors.New("xcache: unexpected result type from singleflight")
		}
		if result.Shared && g.clone != nil {
			v = g.clone(v)
		}
		return v, nil
	}
}

// Forget 让后续对 key 的调用不再等待当前进行中的计算。
func (g *Guard[T]) Forget(key string) {
	g.group.Forget(key)
}

// safeCall 执行 fn 并把 panic 转换为 ErrProducerPanic。
// singleflight 会在新 goroutine 中重新 panic，必须在 fn 内部 recover。
func safeCall[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
		}
	}()
	return fn(ctx)
}
