// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Setup installs a JSON slog handler at level ("debug", "info", "warn", "error")
// as the default logger and returns it.
func Setup(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
	slog.SetDefault(l)
	return l
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithContext returns the default logger annotated with the request id, when present.
func WithContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		l = l.With("request_id", reqID)
	}
	return l
}
