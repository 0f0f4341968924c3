package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"storefront-checkout/internal/config"
)

func New(service string, env config.Environment, cfg config.Log) *slog.Logger {
	return NewWithWriter(os.Stdout, service, env, cfg)
}

func NewWithWriter(w io.Writer, service string, env config.Environment, cfg config.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	base := slog.New(h).With(
		"service", service,
		"env", env.Name,
	)

	slog.SetDefault(base)
	return base
}

// Discard is used by tests and by collaborators constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
