package xcache

import (
	"math"
	"time"
)

// Forever 表示永不过期。
// 本地不设置淘汰定时器，远端写入不带 EX。
const Forever = time.Duration(math.MaxInt64)

// validateLocalTTL 校验本地 TTL：允许 0（立即过期），拒绝负值。
func validateLocalTTL(ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	return nil
}

// remoteSeconds 将 TTL 转为远端 EX 秒数。
// Forever 返回 (0, true, nil) 表示不设置过期；不足一秒的部分向上取整。
// Redis 不接受 EX 0，因此 ttl <= 0 被视为无效。
func remoteSeconds(ttl time.Duration) (seconds int64, forever bool, err error) {
	if ttl == Forever {
		return 0, true, nil
	}
	if ttl <= 0 {
		return 0, false, ErrInvalidTTL
	}
	seconds = int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		seconds++
	}
	return seconds, false, nil
}

// wholeSeconds 把有限 TTL 向上取整到整秒，使本地与远端在同一时刻过期。
func wholeSeconds(ttl time.Duration) time.Duration {
	if ttl == Forever || ttl <= 0 || ttl%time.Second == 0 {
		return ttl
	}
	return ttl.Truncate(time.Second) + time.Second
}
