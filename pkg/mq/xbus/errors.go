package xbus

import "errors"

var (
	// ErrNilClient 表示发布或订阅客户端为 nil。
	ErrNilClient = errors.New("xbus: nil client")

	// ErrEmptyKey 表示发布的 cacheKey 为空。
	ErrEmptyKey = errors.New("xbus: empty cache key")

	// ErrEmptyProcessID 表示未提供进程标识，无法过滤自身消息。
	ErrEmptyProcessID = errors.New("xbus: empty process id")

	// ErrClosed 表示 Bus 已关闭。
	ErrClosed = errors.New("xbus: bus closed")

	// ErrAlreadyListening 表示 Listen 被重复调用。
	ErrAlreadyListening = errors.New("xbus: already listening")

	// ErrMalformedMessage 表示收到的负载无法解析或缺少 cacheKey。
	ErrMalformedMessage = errors.New("xbus: malformed message")
)
