package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey is the context key for the request ID.
const RequestIDKey contextKey = "request_id"

// Client-supplied request IDs longer than this are discarded and replaced,
// so a hostile header cannot bloat logs or audit rows.
const maxClientRequestID = 64

// RequestID tags each request with an ID that flows through logs, audit
// events, and the response envelope's meta block. A client-provided
// X-Request-ID is honored so callers can correlate across services;
// otherwise a req_-prefixed UUID v7 is minted, which sorts by arrival
// time in log queries. The ID is echoed on the response header either way.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxClientRequestID {
			id = "req_" + uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

// GetRequestID returns the request ID from the context, or "" when the
// middleware has not run.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
