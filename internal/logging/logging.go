package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
)

// Setup configures the global slog logger.
// Console output goes to stderr so that entry content written to stdout
// stays clean. If logOutputDir is non-empty, logs are also written as JSON
// to a timestamped file in that directory; the returned closer releases it.
func Setup(levelStr string, logOutputDir string) (io.Closer, error) {
	level := ParseLevel(levelStr)

	consoleHandler := tint.NewHandler(os.Stderr, &tint.Options{Level: level})

	if logOutputDir == "" {
		slog.SetDefault(slog.New(consoleHandler))
		return nopCloser{}, nil
	}

	logDir := os.ExpandEnv(logOutputDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	logFilePath := filepath.Join(logDir, fmt.Sprintf("xpack_%s.log", timestamp))

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(
		slogmulti.Fanout(consoleHandler, fileHandler),
	))

	slog.Debug("logging to file", "path", logFilePath)
	return logFile, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel converts a string log level to slog.Level. Unknown levels
// fall back to info.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
