package xcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// setIfAbsentScript 原子地"不存在则写入，存在则返回当前值"。
// 返回 "true|" 表示写入成功，"false|<current>" 表示 key 已存在。
// ARGV[2] 缺省时不设置过期。
var setIfAbsentScript = redis.NewScript(`
local result
if ARGV[2] == nil then
  result = redis.call("SET", KEYS[1], ARGV[1], "NX")
else
  result = redis.call("SET", KEYS[1], ARGV[1], "NX", "EX", ARGV[2])
end
if result == false then
  local current = redis.call("GET", KEYS[1])
  if current == false then
    current = ""
  end
  return "false|" .. current
end
return "true|"
`)

// SaveResult 远端写入结果。
type SaveResult struct {
	// Success 写入是否生效。
	Success bool

	// Conflict 条件写入因 key 已存在而失败。与远端故障区分：冲突时远端已有胜者。
	Conflict bool

	// Current 冲突时远端已有的值，调用方应采用该值而不是自己的结果。
	// 已有值无法解析或为 null 时为 nil，此时仍是冲突。
	Current []byte

	// Err 写入失败的原因（参数无效、远端故障等），仅用于日志和错误包装。
	// 条件写入冲突时为 nil。
	Err error
}

// =============================================================================
// RemoteStore
// =============================================================================

// RemoteStore 远端共享缓存（L2），跨进程的事实来源。
//
// 所有远端故障都在此层被吸收：读取降级为未命中，写入降级为 Success=false，
// 并记录 Warn 日志。可选熔断器打开时的行为与远端不可达一致。
type RemoteStore struct {
	client  redis.UniversalClient
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// RemoteOption 配置 RemoteStore。
type RemoteOption func(*remoteOptions)

type remoteOptions struct {
	logger   *slog.Logger
	breaker  bool
	settings gobreaker.Settings
}

// 熔断默认参数。
const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 5 * time.Second
)

func defaultRemoteOptions() *remoteOptions {
	return &remoteOptions{
		logger:  slog.Default(),
		breaker: true,
		settings: gobreaker.Settings{
			Name:        "xcache.remote",
			MaxRequests: 1,
			Timeout:     defaultBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= defaultBreakerFailures
			},
		},
	}
}

// WithRemoteLogger 设置 logger。
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(o *remoteOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBreaker 设置熔断参数：连续失败 failures 次后打开，timeout 后半开探测。
// failures <= 0 时禁用熔断。
func WithBreaker(failures uint32, timeout time.Duration) RemoteOption {
	return func(o *remoteOptions) {
		if failures == 0 {
			o.breaker = false
			return
		}
		o.breaker = true
		o.settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		}
		if timeout > 0 {
			o.settings.Timeout = timeout
		}
	}
}

// NewRemoteStore 创建远端缓存。RemoteStore 不拥有 client 的生命周期。
func NewRemoteStore(client redis.UniversalClient, opts ...RemoteOption) (*RemoteStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultRemoteOptions()
	for _, opt := range opts {
		opt(o)
	}

	r := &RemoteStore{
		client: client,
		logger: o.logger,
	}
	if o.breaker {
		st := o.settings
		// key 不存在不是故障
		st.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled)
		}
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			r.logger.Warn("xcache: remote breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		}
		r.breaker = gobreaker.NewCircuitBreaker[any](st)
	}
	return r, nil
}

// exec 在熔断器保护下执行远端调用。
func (r *RemoteStore) exec(fn func() (any, error)) (any, error) {
	if r.breaker == nil {
		return fn()
	}
	return r.breaker.Execute(fn)
}

// Fetch 读取 key。未命中、远端故障或值不是合法 JSON 时返回 (nil, false)。
func (r *RemoteStore) Fetch(ctx context.Context, key string) ([]byte, bool) {
	res, err := r.exec(func() (any, error) {
		return r.client.Get(ctx, key).Bytes()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("xcache: remote fetch failed", "key", key, "error", err)
		}
		return nil, false
	}
	data, _ := res.([]byte)
	if err := checkStored(data); err != nil {
		r.logger.Warn("xcache: could not parse remote value", "key", key, "error", err)
		return nil, false
	}
	if isAbsent(data) {
		return nil, false
	}
	return data, true
}

// FetchTTL 读取 key 的剩余 TTL。
// key 不存在（或远端故障）返回 (0, false)；未设置过期返回 (Forever, true)。
func (r *RemoteStore) FetchTTL(ctx context.Context, key string) (time.Duration, bool) {
	res, err := r.exec(func() (any, error) {
		return r.client.TTL(ctx, key).Result()
	})
	if err != nil {
		r.logger.Warn("xcache: remote ttl fetch failed", "key", key, "error", err)
		return 0, false
	}
	ttl, _ := res.(time.Duration)
	switch {
	case ttl == -1:
		return Forever, true
	case ttl > 0:
		return ttl, true
	default:
		// -2: key 不存在
		return 0, false
	}
}

// Save 写入远端。
//
// overwrite=false 时执行原子的"不存在则写入"，key 已存在则返回 Success=false
// 并在 Current 中携带已有值；overwrite=true 时无条件覆盖。
// 参数无效时不访问远端，直接返回 Success=false。
func (r *RemoteStore) Save(ctx context.Context, key string, value []byte, ttl time.Duration, overwrite bool) SaveResult {
	if key == "" {
		return SaveResult{Err: ErrEmptyKey}
	}
	if isAbsent(value) {
		r.logger.Warn("xcache: cannot save nil value to remote", "key", key)
		return SaveResult{Err: ErrNilValue}
	}
	seconds, forever, err := remoteSeconds(ttl)
	if err != nil {
		r.logger.Warn("xcache: invalid remote ttl", "key", key, "ttl", ttl)
		return SaveResult{Err: err}
	}

	if overwrite {
		return r.set(ctx, key, value, seconds, forever)
	}
	return r.setIfAbsent(ctx, key, value, seconds, forever)
}

func (r *RemoteStore) set(ctx context.Context, key string, value []byte, seconds int64, forever bool) SaveResult {
	expiration := time.Duration(0)
	if !forever {
		expiration = time.Duration(seconds) * time.Second
	}
	_, err := r.exec(func() (any, error) {
		return r.client.Set(ctx, key, value, expiration).Result()
	})
	if err != nil {
		r.logger.Warn("xcache: could not save to remote", "key", key, "error", err)
		return SaveResult{Err: err}
	}
	return SaveResult{Success: true}
}

func (r *RemoteStore) setIfAbsent(ctx context.Context, key string, value []byte, seconds int64, forever bool) SaveResult {
	args := []any{value}
	if !forever {
		args = append(args, strconv.FormatInt(seconds, 10))
	}
	res, err := r.exec(func() (any, error) {
		return setIfAbsentScript.Run(ctx, r.client, []string{key}, args...).Text()
	})
	if err != nil {
		r.logger.Warn("xcache: could not save to remote", "key", key, "error", err)
		return SaveResult{Err: err}
	}

	reply, _ := res.(string)
	flag, current, ok := strings.Cut(reply, "|")
	if !ok {
		err := fmt.Errorf("xcache: unexpected script reply %q", reply)
		r.logger.Warn("xcache: could not save to remote", "key", key, "error", err)
		return SaveResult{Err: err}
	}
	if flag == "true" {
		return SaveResult{Success: true}
	}

	result := SaveResult{Conflict: true}
	data := []byte(current)
	if err := checkStored(data); err != nil {
		r.logger.Warn("xcache: could not parse remote value", "key", key, "error", err)
		return result
	}
	if !isAbsent(data) {
		result.Current = data
	}
	return result
}
