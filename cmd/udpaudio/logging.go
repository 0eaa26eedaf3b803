package main

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/udpaudio/internal/config"
)

// newLogger builds the process logger. The returned LevelVar lets the config
// watcher change verbosity at runtime. When LogFile is set, records are also
// written to a size-rotated file; the returned func closes it.
func newLogger(sc config.ServerConfig, stderr io.Writer) (*slog.Logger, *slog.LevelVar, func()) {
	level := new(slog.LevelVar)
	level.Set(sc.LogLevel.Level())

	out := stderr
	closeFn := func() {}
	if sc.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   sc.LogFile,
			MaxSize:    sc.LogMaxSizeMB,
			MaxBackups: sc.LogMaxBackups,
			MaxAge:     sc.LogMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(stderr, rotator)
		closeFn = func() { _ = rotator.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), level, closeFn
}
