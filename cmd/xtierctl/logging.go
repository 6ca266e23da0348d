package main

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omeyang/xtier/internal/config"
)

// logSink 日志输出及其可调级别。
type logSink struct {
	logger *slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// Close 关闭日志文件，输出到 stderr 时为空操作。
func (s *logSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// newLogSink 按配置创建 logger。File 为空时写 stderr，否则写入按大小轮转的文件。
// 级别通过 LevelVar 持有，配置热加载时可原地调整。
func newLogSink(cfg config.LogConfig, stderr io.Writer) (*logSink, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)

	var (
		out    = stderr
		closer io.Closer
	)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out, closer = rotator, rotator
	}

	hopts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if cfg.Format == config.LogFormatText {
		h = slog.NewTextHandler(out, hopts)
	} else {
		h = slog.NewJSONHandler(out, hopts)
	}
	return &logSink{logger: slog.New(h), level: lv, closer: closer}, nil
}
