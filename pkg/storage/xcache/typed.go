package xcache

import (
	"context"
	"errors"
	"fmt"
)

// ValueProducer 计算类型为 V 的缓存值。
type ValueProducer[V any] func(ctx context.Context) (V, error)

// GetOrInitValue 是 [Client.GetOrInit] 的类型化版本，值以 JSON 编解码。
//
// 每次调用都从字节解码出新的 V，调用方修改返回值不会影响缓存或其他调用方。
// producer 返回的值编码为 JSON null 时视为缺省值，返回 [ErrNilValue]。
func GetOrInitValue[V any](ctx context.Context, c *Client, key string, producer ValueProducer[V], opts ...CallOption) (V, error) {
	var zero V
	if producer == nil {
		return zero, ErrNilProducer
	}
	data, err := c.GetOrInit(ctx, key, encodeProducer(producer), opts...)
	if err != nil {
		return zero, err
	}
	return decodeValue[V](data)
}

// AttemptRegenerationValue 是 [Client.AttemptRegeneration] 的类型化版本。
func AttemptRegenerationValue[V any](ctx context.Context, c *Client, key string, producer ValueProducer[V], opts ...CallOption) (V, error) {
	var zero V
	if producer == nil {
		return zero, ErrNilProducer
	}
	data, err := c.AttemptRegeneration(ctx, key, encodeProducer(producer), opts...)
	if err != nil {
		return zero, err
	}
	return decodeValue[V](data)
}

func encodeProducer[V any](producer ValueProducer[V]) Producer {
	return func(ctx context.Context) ([]byte, error) {
		v, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		data, err := encodeValue(v)
		if err != nil {
			// 缺省值直接返回，由 Client 统一按 ErrNilValue 处理
			if errors.Is(err, ErrNilValue) {
				return nil, nil
			}
			return nil, fmt.Errorf("xcache: encode produced value: %w", err)
		}
		return data, nil
	}
}
