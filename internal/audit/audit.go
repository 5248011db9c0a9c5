package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/purrrlove/perch/internal/model"
)

// Sink receives security events. Implementations must be safe for
// concurrent use; Record is called on request hot paths and must not block
// on slow backends.
type Sink interface {
	Record(ctx context.Context, eventType string, ip string, detail map[string]any)
}

// sensitive substrings scrubbed from detail keys before any sink writes.
var sensitiveKeys = []string{"key", "token", "secret", "password", "code"}

func redact(detail map[string]any) map[string]any {
	if detail == nil {
		return nil
	}
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		lower := strings.ToLower(k)
		masked := false
		for _, s := range sensitiveKeys {
			// "key_id" and reason codes are structural, not secrets.
			if strings.Contains(lower, s) && !strings.HasSuffix(lower, "_id") && lower != "reason_code" {
				out[k] = "[REDACTED]"
				masked = true
				break
			}
		}
		if !masked {
			out[k] = v
		}
	}
	return out
}

// Logger is a Sink that emits structured slog records. It is the default
// sink: the platform's log collector consumes the audit stream from there.
type Logger struct {
	log *slog.Logger
}

// NewLogger wraps a slog.Logger as an audit sink.
func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log}
}

// Record implements Sink.
func (l *Logger) Record(ctx context.Context, eventType, ip string, detail map[string]any) {
	l.log.LogAttrs(ctx, slog.LevelWarn, "security_event",
		slog.String("type", eventType),
		slog.String("ip", ip),
		slog.Any("detail", redact(detail)),
		slog.Time("at", time.Now().UTC()),
	)
}

// EventStore is the slice of the credential store the persistent sink
// needs.
type EventStore interface {
	AppendSecurityEvent(ctx context.Context, ev *model.SecurityEvent) error
}

// StoreSink appends events to the credential store's security_events table.
// Writes run detached from the request context so a slow store degrades
// audit persistence, never request latency.
type StoreSink struct {
	store EventStore
	log   *slog.Logger
}

// NewStoreSink builds a persistent sink over the store.
func NewStoreSink(store EventStore, log *slog.Logger) *StoreSink {
	return &StoreSink{store: store, log: log}
}

// Record implements Sink.
func (s *StoreSink) Record(_ context.Context, eventType, ip string, detail map[string]any) {
	raw, err := json.Marshal(redact(detail))
	if err != nil {
		raw = []byte("{}")
	}
	ev := &model.SecurityEvent{
		Type:      eventType,
		DetailRaw: string(raw),
		IP:        ip,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.AppendSecurityEvent(ctx, ev); err != nil {
			s.log.Error("security event write failed", "type", eventType, "error", err)
		}
	}()
}

// Multi fans events out to several sinks.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, eventType, ip string, detail map[string]any) {
	for _, s := range m {
		s.Record(ctx, eventType, ip, detail)
	}
}

// Nop discards all events. Tests only.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, string, string, map[string]any) {}
