package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"storefront-checkout/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "checkout", config.Environment{Name: "test"}, config.Log{Level: "info", Format: "json"})

	log.Debug("hidden")
	log.Info("order created", "order_number", "ORD-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order created", line["msg"])
	assert.Equal(t, "checkout", line["service"])
	assert.Equal(t, "test", line["env"])
	assert.Equal(t, "ORD-1", line["order_number"])
}
