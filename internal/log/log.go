package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu         sync.RWMutex
	logger     *zap.SugaredLogger
	loggerOnce sync.Once
	atomLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger initializes the global logger to write console-encoded lines
// to stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.ConsoleSeparator = " "

		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			atomLevel,
		)
		mu.Lock()
		if logger == nil {
			logger = zap.New(core).Sugar()
		}
		mu.Unlock()
	})
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(l Level) {
	initLogger()
	atomLevel.SetLevel(toZapLevel(l))
}

// ParseLevel maps config strings ("debug", "info", ...) to a Level.
// Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Replace swaps the global logger (tests use zaptest/observer) and returns a
// function restoring the previous one.
func Replace(l *zap.Logger) func() {
	initLogger()
	mu.Lock()
	prev := logger
	logger = l.Sugar()
	mu.Unlock()
	return func() {
		mu.Lock()
		logger = prev
		mu.Unlock()
	}
}

// Sync flushes buffered entries. Safe to call at exit.
func Sync() {
	_ = current().Sync()
}

func Debug(msg string, kv ...any) {
	current().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Errorw(msg, extended...)
}

func current() *zap.SugaredLogger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
