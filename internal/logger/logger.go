// Package logger provides the process-wide structured logger used by the
// SyncChat server and client. It wraps a zap SugaredLogger so call sites can
// log with slog-style key/value pairs.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop().Sugar()
)

// Options controls how Init builds the global logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Output is "stderr", "stdout" or a file path. Empty means stderr.
	Output string
	// JSON switches the encoder from console to JSON.
	JSON bool
}

// ParseLevel maps a textual level to a zap level. Unknown values fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init replaces the global logger according to opts.
func Init(opts Options) error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if !opts.JSON {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	output := opts.Output
	if output == "" {
		output = "stderr"
	}
	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	log = built.Sugar()
	mu.Unlock()
	return nil
}

// InitFromEnv initializes the logger from GOCHAT_LOG_LEVEL and GOCHAT_LOG_OUTPUT.
func InitFromEnv() error {
	return Init(Options{
		Level:  os.Getenv("GOCHAT_LOG_LEVEL"),
		Output: os.Getenv("GOCHAT_LOG_OUTPUT"),
	})
}

// Disable discards all log output.
func Disable() {
	mu.Lock()
	log = zap.NewNop().Sugar()
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() {
	_ = current().Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Named returns a child logger tagged with the given component name.
func Named(name string) *zap.SugaredLogger {
	return current().Named(name)
}

// Debug logs with key/value pairs.
func Debug(msg string, kv ...any) { current().Debugw(msg, kv...) }

// Info logs with key/value pairs.
func Info(msg string, kv ...any) { current().Infow(msg, kv...) }

// Warn logs with key/value pairs.
func Warn(msg string, kv ...any) { current().Warnw(msg, kv...) }

// Error logs with key/value pairs.
func Error(msg string, kv ...any) { current().Errorw(msg, kv...) }
