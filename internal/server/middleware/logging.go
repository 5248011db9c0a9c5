package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Logger emits one structured line per request. 5xx responses log at
// error, 4xx at warn, the rest at info, so a quiet log level still
// surfaces every failure.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", rec.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if q := r.URL.Query(); len(q) > 0 {
				attrs = append(attrs, "query", maskQuery(q))
			}

			logger.Log(r.Context(), levelFor(rec.status), "request", attrs...)
		})
	}
}

// maskQuery blanks credential-bearing query parameters before they reach
// the log. Clients may pass keys as ?api_key=, and those must never be
// written anywhere in the clear.
func maskQuery(q url.Values) string {
	for name := range q {
		switch strings.ToLower(name) {
		case "api_key", "access_token", "token", "code", "client_secret":
			q.Set(name, "[REDACTED]")
		}
	}
	return q.Encode()
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// statusRecorder captures the status code and byte count for the log line.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.wroteHeader = true
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// Unwrap exposes the wrapped writer for http.ResponseController and
// interface probes further down the chain.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
