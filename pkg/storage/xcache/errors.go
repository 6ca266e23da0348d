package xcache

import "errors"

// =============================================================================
// 生命周期错误
// =============================================================================

var (
	// ErrNilClient 表示传入的客户端为 nil。
	// Init 需要两个独立连接：一个用于缓存命令和发布，一个专用于订阅。
	ErrNilClient = errors.New("xcache: nil client")

	// ErrNotInitialized 表示在 Init 之前调用了缓存操作。
	ErrNotInitialized = errors.New("xcache: not initialized")

	// ErrAlreadyInitialized 表示重复调用 Init。
	ErrAlreadyInitialized = errors.New("xcache: already initialized")

	// ErrClosed 表示 Client 或 LocalStore 已关闭。
	ErrClosed = errors.New("xcache: closed")
)

// =============================================================================
// 输入错误
// =============================================================================

var (
	// ErrEmptyKey 表示传入的 key 为空字符串。
	ErrEmptyKey = errors.New("xcache: empty key")

	// ErrNilValue 表示值为缺省值（nil 或 JSON null），该值保留用于表示"未缓存"。
	ErrNilValue = errors.New("xcache: nil value cannot be cached")

	// ErrInvalidTTL 表示 TTL 为负，或在远端要求正值时为 0。
	ErrInvalidTTL = errors.New("xcache: invalid ttl")

	// ErrNilProducer 表示 producer 函数为 nil。
	ErrNilProducer = errors.New("xcache: nil producer")
)

// =============================================================================
// 运行时错误
// =============================================================================

var (
	// ErrLockFailed 表示获取分布式锁失败。
	// GetOrInit 在此情况下降级为本地计算；AttemptRegeneration 直接返回此错误。
	ErrLockFailed = errors.New("xcache: could not acquire lock for regeneration")

	// ErrProducerFailed 表示调用方提供的 producer 返回了错误。
	ErrProducerFailed = errors.New("xcache: producer failed")

	// ErrProducerPanic 表示 producer 发生了 panic。
	// 设计决策: singleflight 会在新 goroutine 中 re-panic 导致进程崩溃，
	// xcache 通过 recover 将 panic 转为此错误，保护进程不被用户代码拖垮。
	ErrProducerPanic = errors.New("xcache: producer panicked")

	// ErrRemoteWriteFailed 表示强制写入远端失败。
	ErrRemoteWriteFailed = errors.New("xcache: remote write failed")

	// ErrParseFailed 表示远端存储的值不是合法 JSON。
	// 读取路径上该错误被降级为"未命中"并记录日志，不会返回给调用方。
	ErrParseFailed = errors.New("xcache: stored value is not valid JSON")
)
