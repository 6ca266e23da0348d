// xtierctl 是两级缓存的运维命令行工具。
//
// 用法:
//
//	xtierctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config   配置文件路径（.yaml/.yml/.json），缺省使用默认配置
//	    --addr     覆盖 redis.addr
//	    --log-level 覆盖 log.level
//	-t, --timeout  get/regen/stats 的超时时间 (默认: 30s)
//
// 命令:
//
//	get <key>      读取 key，缓存缺失时用 --value 或 stdin 的内容初始化
//	regen <key>    强制重新生成 key 并通知其他进程
//	watch          订阅失效广播并记录每次刷新，配置文件变更时调整日志级别
//	stats [key...] 刷新给定 key 并输出远端状态和进程内统计
//
// 退出码:
//
//	0: 成功
//	1: 执行失败（远端不可达、producer 失败、锁被占用等）
//	2: 参数错误
//
// 示例:
//
//	xtierctl get --ttl 10s --value '{"title":"home"}' cms::homepage
//	echo '{"title":"home"}' | xtierctl regen cms::homepage
//	xtierctl -c /etc/xtier.yaml watch
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// 版本信息（可通过 -ldflags 注入）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	code := run(ctx, os.Args, &stdio{in: os.Stdin, out: os.Stdout, err: os.Stderr})
	cancel()
	os.Exit(code)
}

// stdio 命令的输入输出，测试时替换。
type stdio struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// run 执行命令并映射退出码。
func run(ctx context.Context, args []string, std *stdio) int {
	app := createApp(std)
	if err := app.Run(ctx, args); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(std.err, "参数错误: %v\n", usageErr)
			return 2
		}
		if isCLIUsageError(err) {
			fmt.Fprintf(std.err, "参数错误: %v\n", err)
			return 2
		}
		fmt.Fprintf(std.err, "错误: %v\n", err)
		return 1
	}
	return 0
}

// exitError 表示输出已完成、只需设置非零退出码的场景。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func newUsageError(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// isCLIUsageError 识别 CLI 框架产生的参数错误（未知 flag、缺少必需 flag、flag 值无效）。
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"flag provided but not defined",
		"Required flag",
		"Required flags",
		"invalid value",
		"No help topic",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// setupSignalHandler 第一次信号优雅取消，第二次信号强制退出（130 = 128 + SIGINT）。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
