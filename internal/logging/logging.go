// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs a JSON slog logger as the default and returns it.
// dev enables debug logging. When logFile is set, records are also written to that file,
// which is rotated at 10 MB with three backups kept for three days.
// The returned closer releases the log file.
func Setup(env, logFile string) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, nil, err
		}
		file := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxAge:     3,
			MaxBackups: 3,
		}
		w = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	logger := New(w, level)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// New creates a JSON logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
