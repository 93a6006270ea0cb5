package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	previous := Get()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(previous) })
	return logs
}

func TestParseTTLSeconds(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback int
		want     int
		warns    bool
	}{
		{name: "minutes", value: "15m", fallback: 1, want: 900},
		{name: "days", value: "30d", fallback: 1, want: 2592000},
		{name: "bare seconds", value: "900", fallback: 1, want: 900},
		{name: "seconds suffix", value: "900s", fallback: 1, want: 900},
		{name: "hours", value: "1h", fallback: 1, want: 3600},
		{name: "surrounding whitespace", value: "  2h ", fallback: 1, want: 7200},
		{name: "empty uses fallback silently", value: "", fallback: 300, want: 300},
		{name: "garbage", value: "bogus", fallback: 300, want: 300, warns: true},
		{name: "unknown unit", value: "10w", fallback: 42, want: 42, warns: true},
		{name: "zero", value: "0", fallback: 42, want: 42, warns: true},
		{name: "negative amount", value: "-5m", fallback: 42, want: 42, warns: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := observeLogs(t)

			got := ParseTTLSeconds(tt.value, tt.fallback)

			assert.Equal(t, tt.want, got)
			if tt.warns {
				assert.Equal(t, 1, logs.Len(), "expected a warning for %q", tt.value)
			} else {
				assert.Zero(t, logs.Len())
			}
		})
	}
}

func TestParseTTL(t *testing.T) {
	assert.Equal(t, 15*time.Minute, ParseTTL("15m", time.Second))
	assert.Equal(t, 5*time.Minute, ParseTTL("nope", 5*time.Minute))
}
