package xcache

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// localShardCount 分片数量，必须是 2 的幂。
const localShardCount = 32

// LocalStore 进程内 TTL 缓存（L1）。
//
// 每个条目持有独立的淘汰定时器：覆盖写入时取消旧定时器并重新调度，
// Forever 条目不设定时器。没有容量淘汰策略，条目只因 TTL 到期、
// Delete 或 Close 而移除。
//
// 写入和读取都复制字节，调用方持有的切片与缓存内部互不影响。
type LocalStore struct {
	shards [localShardCount]localShard
	closed atomic.Bool
	now    func() time.Time
}

type localShard struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	value    []byte
	expireAt time.Time // 零值表示永不过期
	timer    *time.Timer
}

// NewLocalStore 创建本地缓存。
func NewLocalStore() *LocalStore {
	s := &LocalStore{now: time.Now}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*localEntry)
	}
	return s
}

func (s *LocalStore) shard(key string) *localShard {
	return &s.shards[xxhash.Sum64String(key)&(localShardCount-1)]
}

// Fetch 返回 key 对应值的副本。未命中、已过期或已关闭时返回 (nil, false)。
func (s *LocalStore) Fetch(key string) ([]byte, bool) {
	if s.closed.Load() {
		return nil, false
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil, false
	}
	// 定时器回调可能还在排队，按截止时间兜底
	if !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		e.stop()
		delete(sh.entries, key)
		return nil, false
	}
	return bytes.Clone(e.value), true
}

// Save 写入 key，ttl 为 Forever 时永不过期。
// 值为缺省值或 ttl 为负时拒绝写入，已有条目保持不变。
func (s *LocalStore) Save(key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	if isAbsent(value) {
		return ErrNilValue
	}
	if err := validateLocalTTL(ttl); err != nil {
		return err
	}

	e := &localEntry{value: bytes.Clone(value)}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if old, ok := sh.entries[key]; ok {
		old.stop()
	}
	if ttl != Forever {
		e.expireAt = s.now().Add(ttl)
		// 在持锁状态下创建定时器：回调需要同一把锁，不会早于插入执行
		e.timer = time.AfterFunc(ttl, func() { s.evict(key, e) })
	}
	sh.entries[key] = e
	return nil
}

// evict 定时器回调，只移除仍是同一条目的 key。
func (s *LocalStore) evict(key string, e *localEntry) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.entries[key]; ok && cur == e {
		delete(sh.entries, key)
	}
}

// Delete 移除 key 并取消其定时器。
func (s *LocalStore) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok {
		e.stop()
		delete(sh.entries, key)
	}
}

// Len 返回当前条目数（包含尚未被定时器移除的过期条目）。
func (s *LocalStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Close 取消所有淘汰定时器并清空缓存。可重复调用。
func (s *LocalStore) Close() {
	if s.closed.Swap(true) {
		return
	}
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, e := range sh.entries {
			e.stop()
		}
		clear(sh.entries)
		sh.mu.Unlock()
	}
}

func (e *localEntry) stop() {
	if e.timer != nil {
		e.timer.Stop()
	}
}
