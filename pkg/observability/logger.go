package observability

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the service-wide structured logger. Output is JSON so log
// aggregation stays queryable; the level comes from LOG_LEVEL (debug, info,
// warn, error) and defaults to info.
func NewLogger(serviceName string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", serviceName)
}
