package store

import (
	"context"
	"fmt"
	"time"

	"github.com/purrrlove/perch/internal/model"
)

// AppendSecurityEvent writes one audit record. The table is append-only;
// nothing in the gateway updates or deletes rows.
func (s *Store) AppendSecurityEvent(ctx context.Context, ev *model.SecurityEvent) error {
	ev.CreatedAt = time.Now().UTC()
	if ev.DetailRaw == "" {
		ev.DetailRaw = "{}"
	}

	id, err := s.insertID(ctx, `INSERT INTO security_events
		(type, detail, ip, created_at) VALUES (?, ?, ?, ?)`,
		ev.Type, ev.DetailRaw, ev.IP, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append security event: %w", err)
	}
	ev.ID = id
	return nil
}

// ListSecurityEvents returns the most recent events, optionally filtered by
// type. Used by admin tooling only.
func (s *Store) ListSecurityEvents(ctx context.Context, eventType string, limit int) ([]model.SecurityEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var events []model.SecurityEvent
	var err error
	if eventType == "" {
		err = s.db.SelectContext(ctx, &events, s.rebind(
			"SELECT * FROM security_events ORDER BY created_at DESC, id DESC LIMIT ?"), limit)
	} else {
		err = s.db.SelectContext(ctx, &events, s.rebind(
			"SELECT * FROM security_events WHERE type = ? ORDER BY created_at DESC, id DESC LIMIT ?"),
			eventType, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return events, nil
}
