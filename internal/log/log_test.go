package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorPrependsErrField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Error("fetch failed", errors.New("boom"), "id", "work")

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "boom", ctx["err"])
	assert.Equal(t, "work", ctx["id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestWarnAndInfo(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Debug("hidden")
	Info("shown", "n", 1)
	Warn("careful")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "shown", logs.All()[0].Message)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
