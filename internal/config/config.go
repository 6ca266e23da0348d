package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config xtierctl 的完整配置。
type Config struct {
	Redis RedisConfig `koanf:"redis"`
	Cache CacheConfig `koanf:"cache"`
	Log   LogConfig   `koanf:"log"`
}

// RedisConfig 远端连接配置。命令行工具用同一组参数建立缓存连接和订阅连接。
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	PoolSize     int           `koanf:"pool_size"`
}

// CacheConfig 两级缓存的协调参数。
type CacheConfig struct {
	Channel       string        `koanf:"channel"`
	LockPrefix    string        `koanf:"lock_prefix"`
	LockTTL       time.Duration `koanf:"lock_ttl"`
	RenewInterval time.Duration `koanf:"renew_interval"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
	RetryJitter   time.Duration `koanf:"retry_jitter"`
	UnlockTimeout time.Duration `koanf:"unlock_timeout"`

	// RenewTimeout 单次续期的超时，0 表示等于续期间隔。
	RenewTimeout time.Duration `koanf:"renew_timeout"`

	// LockDriftFactor 和 LockTimeoutFactor 取值 (0, 1)。
	LockDriftFactor   float64 `koanf:"lock_drift_factor"`
	LockTimeoutFactor float64 `koanf:"lock_timeout_factor"`

	// ReacquireLapsedLock 续期发现租约已过期且锁空闲时重新占有。
	ReacquireLapsedLock bool `koanf:"reacquire_lapsed_lock"`

	// BreakerFailures 连续失败多少次后熔断远端，负数表示不熔断。
	BreakerFailures int           `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`

	// DefaultTTL get/regen 未指定 --ttl 时使用的 TTL，0 表示永不过期。
	DefaultTTL time.Duration `koanf:"default_ttl"`
}

// LogConfig 日志输出配置。File 为空时输出到 stderr，否则写入按大小轮转的文件。
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// 日志格式。
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Default 返回默认配置，缓存参数与 xcache 的默认值一致。
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:         "127.0.0.1:6379",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			PoolSize:     10,
		},
		Cache: CacheConfig{
			Channel:           "cacheChannel",
			LockPrefix:        "cachelock::",
			LockTTL:           10 * time.Minute,
			RenewInterval:     30 * time.Second,
			RetryDelay:        400 * time.Millisecond,
			RetryJitter:       400 * time.Millisecond,
			UnlockTimeout:     5 * time.Second,
			LockDriftFactor:   0.01,
			LockTimeoutFactor: 0.05,
			BreakerFailures:   5,
			BreakerTimeout:    5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     LogFormatJSON,
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// applyDefaults 把显式写成零值的字段替换为默认值。
// 布尔字段、DefaultTTL、RenewTimeout 和负数的 BreakerFailures 不处理，它们的零值或负值有含义。
func (c *Config) applyDefaults() {
	d := Default()

	setString(&c.Redis.Addr, d.Redis.Addr)
	setDuration(&c.Redis.DialTimeout, d.Redis.DialTimeout)
	setDuration(&c.Redis.ReadTimeout, d.Redis.ReadTimeout)
	setDuration(&c.Redis.WriteTimeout, d.Redis.WriteTimeout)
	setInt(&c.Redis.PoolSize, d.Redis.PoolSize)

	setString(&c.Cache.Channel, d.Cache.Channel)
	setString(&c.Cache.LockPrefix, d.Cache.LockPrefix)
	setDuration(&c.Cache.LockTTL, d.Cache.LockTTL)
	setDuration(&c.Cache.RenewInterval, d.Cache.RenewInterval)
	setDuration(&c.Cache.RetryDelay, d.Cache.RetryDelay)
	setDuration(&c.Cache.RetryJitter, d.Cache.RetryJitter)
	setDuration(&c.Cache.UnlockTimeout, d.Cache.UnlockTimeout)
	setFloat(&c.Cache.LockDriftFactor, d.Cache.LockDriftFactor)
	setFloat(&c.Cache.LockTimeoutFactor, d.Cache.LockTimeoutFactor)
	setInt(&c.Cache.BreakerFailures, d.Cache.BreakerFailures)
	setDuration(&c.Cache.BreakerTimeout, d.Cache.BreakerTimeout)

	setString(&c.Log.Level, d.Log.Level)
	setString(&c.Log.Format, d.Log.Format)
	setInt(&c.Log.MaxSizeMB, d.Log.MaxSizeMB)
}

// Validate 校验配置，返回的错误包装 [ErrInvalid]。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("%w: redis.addr is empty", ErrInvalid)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("%w: redis.db must be >= 0, got %d", ErrInvalid, c.Redis.DB)
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("%w: redis.pool_size must be >= 0, got %d", ErrInvalid, c.Redis.PoolSize)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"redis.dial_timeout", c.Redis.DialTimeout},
		{"redis.read_timeout", c.Redis.ReadTimeout},
		{"redis.write_timeout", c.Redis.WriteTimeout},
		{"cache.lock_ttl", c.Cache.LockTTL},
		{"cache.renew_interval", c.Cache.RenewInterval},
		{"cache.retry_delay", c.Cache.RetryDelay},
		{"cache.retry_jitter", c.Cache.RetryJitter},
		{"cache.unlock_timeout", c.Cache.UnlockTimeout},
		{"cache.renew_timeout", c.Cache.RenewTimeout},
		{"cache.breaker_timeout", c.Cache.BreakerTimeout},
		{"cache.default_ttl", c.Cache.DefaultTTL},
	}
	for _, f := range durations {
		if f.d < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %s", ErrInvalid, f.name, f.d)
		}
	}

	factors := []struct {
		name string
		f    float64
	}{
		{"cache.lock_drift_factor", c.Cache.LockDriftFactor},
		{"cache.lock_timeout_factor", c.Cache.LockTimeoutFactor},
	}
	for _, f := range factors {
		if f.f <= 0 || f.f >= 1 {
			return fmt.Errorf("%w: %s must be in (0, 1), got %g", ErrInvalid, f.name, f.f)
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("%w: log.format must be %q or %q, got %q", ErrInvalid, LogFormatJSON, LogFormatText, c.Log.Format)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("%w: log rotation limits must not be negative", ErrInvalid)
	}
	return nil
}

// SlogLevel 解析日志级别（debug/info/warn/error，不区分大小写）。
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q: %w", ErrInvalid, l.Level, err)
	}
	return level, nil
}

func setString(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}
