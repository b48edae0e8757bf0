// Package logging builds the process logger from configs.LogConfig.
//
// Package logging 根据configs.LogConfig构建进程日志记录器。
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Humphrey-He/hguard/configs"
)

// Logger is a *slog.Logger whose level can be changed at runtime.
//
// Logger 是可以在运行时调整级别的*slog.Logger。
type Logger struct {
	*slog.Logger

	level  *slog.LevelVar
	closer io.Closer
}

// New creates a logger writing to the output named by cfg.
//
// New 创建写入cfg指定输出的日志记录器。
//
// Parameters:
//   - cfg: Log section of the process configuration
//
// Returns:
//   - *Logger: The logger, Close it to release a log file
//   - error: An error if the level, format or output is invalid
func New(cfg configs.LogConfig) (*Logger, error) {
	var (
		w      io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("logging: file output requires a file path")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		w, closer = f, f
	default:
		return nil, fmt.Errorf("logging: unknown output %q", cfg.Output)
	}

	l, err := NewWithWriter(w, cfg)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	l.closer = closer
	return l, nil
}

// NewWithWriter creates a logger writing to w, ignoring cfg.Output.
//
// NewWithWriter 创建写入w的日志记录器，忽略cfg.Output。
func NewWithWriter(w io.Writer, cfg configs.LogConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)

	opts := &slog.HandlerOptions{Level: lv, AddSource: cfg.AddSource}
	var h slog.Handler
	switch cfg.Format {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	return &Logger{Logger: slog.New(h), level: lv}, nil
}

// ParseLevel converts a configuration level name into a slog.Level.
//
// ParseLevel 将配置中的级别名称转换为slog.Level。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

// SetLevel changes the minimum level of every logger derived from l.
//
// SetLevel 修改由l派生的所有日志记录器的最低级别。
func (l *Logger) SetLevel(s string) error {
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	l.level.Set(level)
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Close closes the log file, if any.
//
// Close 关闭日志文件（如果有）。
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
