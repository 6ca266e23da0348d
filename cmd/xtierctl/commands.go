package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xtier/internal/config"
	"github.com/omeyang/xtier/pkg/storage/xcache"
)

// defaultTimeout 单次命令的默认超时。
const defaultTimeout = 30 * time.Second

// createApp 创建 CLI 应用。
func createApp(std *stdio) *cli.Command {
	return &cli.Command{
		Name:      "xtierctl",
		Usage:     "两级缓存运维工具",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Reader:    std.in,
		Writer:    std.out,
		ErrWriter: std.err,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（.yaml/.yml/.json）",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "覆盖 redis.addr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "覆盖 log.level (debug/info/warn/error)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "get/regen/stats 的超时时间",
				Value:   defaultTimeout,
			},
		},
		Commands: []*cli.Command{
			createGetCommand(std),
			createRegenCommand(std),
			createWatchCommand(std),
			createStatsCommand(std),
		},
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，由 run() 统一映射退出码。
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}
}

// valueFlags get/regen 共用的 flag。
func valueFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "value",
			Usage: "缓存值（JSON），缺省时读取 stdin",
		},
		&cli.BoolFlag{
			Name:  "string",
			Usage: "把 value 当作普通字符串，编码为 JSON 字符串",
		},
		&cli.DurationFlag{
			Name:  "ttl",
			Usage: "缓存 TTL，缺省使用 cache.default_ttl，0 表示永不过期",
		},
	}
}

func createGetCommand(std *stdio) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "读取 key，缓存缺失时用 --value 或 stdin 初始化",
		ArgsUsage: "<key>",
		Flags:     valueFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			key, err := keyArg(cmd)
			if err != nil {
				return err
			}
			return withSession(ctx, cmd, std, func(ctx context.Context, s *session) error {
				data, err := s.client.GetOrInit(ctx, key, s.producer(cmd), s.callOptions(cmd)...)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(std.out, string(data))
				return err
			})
		},
	}
}

func createRegenCommand(std *stdio) *cli.Command {
	return &cli.Command{
		Name:      "regen",
		Usage:     "强制重新生成 key 并通知其他进程",
		ArgsUsage: "<key>",
		Flags:     valueFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			key, err := keyArg(cmd)
			if err != nil {
				return err
			}
			return withSession(ctx, cmd, std, func(ctx context.Context, s *session) error {
				data, err := s.client.AttemptRegeneration(ctx, key, s.producer(cmd), s.callOptions(cmd)...)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(std.out, string(data))
				return err
			})
		},
	}
}

func createWatchCommand(std *stdio) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "订阅失效广播并记录每次刷新",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cmdWatch(ctx, cmd, std)
		},
	}
}

func createStatsCommand(std *stdio) *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "刷新给定 key 并输出远端状态和进程内统计",
		ArgsUsage: "[key...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			keys := cmd.Args().Slice()
			return withSession(ctx, cmd, std, func(ctx context.Context, s *session) error {
				report, err := collectStats(ctx, s, keys)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(std.out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			})
		},
	}
}

// =============================================================================
// 会话
// =============================================================================

// session 一次命令执行期间持有的资源。
type session struct {
	cfg    *config.Config
	logs   *logSink
	store  *redis.Client
	client *xcache.Client
	stdin  io.Reader
}

// openSession 加载配置、建立连接并初始化缓存 Client。
// hooks 在 logger 就绪后生成额外的 Client 选项。
func openSession(ctx context.Context, cmd *cli.Command, std *stdio, hooks ...func(*logSink) xcache.Option) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logs, err := newLogSink(cfg.Log, std.err)
	if err != nil {
		return nil, err
	}

	store := redis.NewClient(redisOptions(cfg.Redis))
	sub := redis.NewClient(redisOptions(cfg.Redis))
	opts := clientOptions(cfg, logs)
	for _, hook := range hooks {
		opts = append(opts, hook(logs))
	}
	client := xcache.New(opts...)
	if err := client.Init(ctx, store, sub); err != nil {
		_ = store.Close()
		_ = sub.Close()
		_ = client.Quit(ctx)
		_ = logs.Close()
		return nil, fmt.Errorf("connect to %s: %w", cfg.Redis.Addr, err)
	}
	return &session{cfg: cfg, logs: logs, store: store, client: client, stdin: std.in}, nil
}

// Close 退出 Client（关闭两个连接）并关闭日志文件。
func (s *session) Close(ctx context.Context) error {
	return errors.Join(s.client.Quit(ctx), s.logs.Close())
}

// withSession 在带超时的会话中执行 fn。
func withSession(ctx context.Context, cmd *cli.Command, std *stdio, fn func(context.Context, *session) error) error {
	if d := cmd.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	s, err := openSession(ctx, cmd, std)
	if err != nil {
		return err
	}
	runErr := fn(ctx, s)
	return errors.Join(runErr, s.Close(context.WithoutCancel(ctx)))
}

// producer 返回以 --value 或 stdin 为结果的 producer。只在缓存缺失时读取 stdin。
func (s *session) producer(cmd *cli.Command) xcache.Producer {
	asString := cmd.Bool("string")
	value, hasValue := cmd.String("value"), cmd.IsSet("value")
	return func(context.Context) ([]byte, error) {
		var raw []byte
		if hasValue {
			raw = []byte(value)
		} else {
			data, err := io.ReadAll(s.stdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			raw = []byte(strings.TrimRight(string(data), "\r\n"))
		}
		if asString {
			return json.Marshal(string(raw))
		}
		return raw, nil
	}
}

// callOptions 解析 TTL：--ttl 优先，其次 cache.default_ttl，都为 0 时永不过期。
func (s *session) callOptions(cmd *cli.Command) []xcache.CallOption {
	ttl := s.cfg.Cache.DefaultTTL
	if cmd.IsSet("ttl") {
		ttl = cmd.Duration("ttl")
	}
	if ttl <= 0 {
		return nil
	}
	return []xcache.CallOption{xcache.WithTTL(ttl)}
}

func keyArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", newUsageError("%s 需要且只需要一个 <key> 参数", cmd.Name)
	}
	key := cmd.Args().First()
	if strings.TrimSpace(key) == "" {
		return "", newUsageError("<key> 不能为空")
	}
	return key, nil
}

// loadConfig 加载配置文件（可选）并应用命令行覆盖。
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			if errors.Is(err, config.ErrLoadFailed) {
				return nil, err
			}
			return nil, &usageError{msg: err.Error()}
		}
		cfg = loaded
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, &usageError{msg: err.Error()}
	}
	return cfg, nil
}

func redisOptions(c config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolSize:     c.PoolSize,
	}
}

func clientOptions(cfg *config.Config, logs *logSink) []xcache.Option {
	failures := uint32(0)
	if cfg.Cache.BreakerFailures > 0 {
		failures = uint32(cfg.Cache.BreakerFailures)
	}
	return []xcache.Option{
		xcache.WithLogger(logs.logger),
		xcache.WithChannel(cfg.Cache.Channel),
		xcache.WithLockPrefix(cfg.Cache.LockPrefix),
		xcache.WithLockTTL(cfg.Cache.LockTTL),
		xcache.WithRenewInterval(cfg.Cache.RenewInterval),
		xcache.WithLockRetry(cfg.Cache.RetryDelay, cfg.Cache.RetryJitter),
		xcache.WithUnlockTimeout(cfg.Cache.UnlockTimeout),
		xcache.WithRenewTimeout(cfg.Cache.RenewTimeout),
		xcache.WithLockFactors(cfg.Cache.LockDriftFactor, cfg.Cache.LockTimeoutFactor),
		xcache.WithLockReacquire(cfg.Cache.ReacquireLapsedLock),
		xcache.WithRemoteBreaker(failures, cfg.Cache.BreakerTimeout),
	}
}

// =============================================================================
// watch
// =============================================================================

// cmdWatch 阻塞直到 ctx 取消。配置文件变更时只调整日志级别，连接参数变更需要重启。
func cmdWatch(ctx context.Context, cmd *cli.Command, std *stdio) error {
	s, err := openSession(ctx, cmd, std, func(logs *logSink) xcache.Option {
		return xcache.WithOnRefresh(func(key string, applied bool) {
			logs.logger.Info("xtierctl: refresh notification", "key", key, "applied", applied)
		})
	})
	if err != nil {
		return err
	}
	logs := s.logs
	defer func() { _ = s.Close(context.WithoutCancel(ctx)) }()

	if path := cmd.String("config"); path != "" {
		w, err := config.Watch(path, func(cfg *config.Config, err error) {
			if err != nil {
				logs.logger.Warn("xtierctl: config reload failed, keeping current settings", "error", err)
				return
			}
			level, err := cfg.Log.SlogLevel()
			if err != nil {
				return
			}
			logs.logger.Info("xtierctl: config reloaded", "level", level.String())
			logs.level.Set(level)
		})
		if err != nil {
			return err
		}
		w.StartAsync()
		defer func() { _ = w.Stop() }()
	}

	logs.logger.Info("xtierctl: watching invalidations",
		"addr", s.cfg.Redis.Addr, "channel", s.cfg.Cache.Channel, "process_id", s.client.ProcessID())
	<-ctx.Done()
	return nil
}

// =============================================================================
// stats
// =============================================================================

// keyReport 单个 key 的远端状态。
type keyReport struct {
	Key        string `json:"key"`
	Present    bool   `json:"present"`
	TTL        string `json:"ttl,omitempty"`
	LockHeld   bool   `json:"lock_held"`
	LocalFresh bool   `json:"local_refreshed"`
}

// statsReport stats 命令的输出。
type statsReport struct {
	ProcessID string       `json:"process_id"`
	Keys      []keyReport  `json:"keys"`
	Stats     xcache.Stats `json:"stats"`
}

func collectStats(ctx context.Context, s *session, keys []string) (*statsReport, error) {
	report := &statsReport{ProcessID: s.client.ProcessID(), Keys: make([]keyReport, 0, len(keys))}
	for _, key := range keys {
		kr := keyReport{Key: key}

		ttl, err := s.store.TTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read ttl of %s: %w", key, err)
		}
		// -2 表示 key 不存在，-1 表示永不过期
		switch {
		case ttl == -2:
		case ttl == -1:
			kr.Present, kr.TTL = true, "forever"
		default:
			kr.Present, kr.TTL = true, ttl.String()
		}

		n, err := s.store.Exists(ctx, s.cfg.Cache.LockPrefix+key).Result()
		if err != nil {
			return nil, fmt.Errorf("check lock of %s: %w", key, err)
		}
		kr.LockHeld = n > 0
		kr.LocalFresh = s.client.Refresh(ctx, key)
		report.Keys = append(report.Keys, kr)
	}
	report.Stats = s.client.Stats()
	return report, nil
}
