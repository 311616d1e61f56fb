package observability

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/seastate/ocean-twin-etl/internal/config"
)

// NewLogger builds the service logger. LOG_FORMAT selects the handler:
// "console" is the colorized development handler, "text" and "json" the
// standard slog handlers. Unknown formats fall back to JSON.
func NewLogger(cfg *config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)

	var h slog.Handler
	switch cfg.LogFormat {
	case "console":
		h = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	case "text":
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(h).With("service", "ocean-twin-etl")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
