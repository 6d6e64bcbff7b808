package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one structured line per request through l.
func RequestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	return chimiddleware.RequestLogger(&slogFormatter{logger: l})
}

type slogFormatter struct {
	logger *slog.Logger
}

func (f *slogFormatter) NewLogEntry(r *http.Request) chimiddleware.LogEntry {
	return &slogEntry{
		logger: f.logger.With(
			"request_id", chimiddleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
		),
		request: r,
	}
}

type slogEntry struct {
	logger  *slog.Logger
	request *http.Request
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	e.logger.Log(e.request.Context(), level, "http request completed",
		"status", status,
		"bytes", bytes,
		"elapsed_ms", elapsed.Milliseconds(),
		"remote_addr", e.request.RemoteAddr,
		"user_agent", e.request.UserAgent(),
	)
}

func (e *slogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error("http request panic", "panic", v, "stack", string(stack))
}
