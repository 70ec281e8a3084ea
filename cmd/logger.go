package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/telewake/relay-service/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ProvideLogger builds the process logger. With log_file set, entries
// go to stdout and a rotated file as JSON; otherwise a text handler
// writes to stdout. It is installed as the slog default so package
// level logging shares the same sinks.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     28, // days
			Compress:   true,
		}
		handler = slog.NewJSONHandler(io.MultiWriter(os.Stdout, rotator), opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
