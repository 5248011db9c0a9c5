package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/purrrlove/perch/internal/model"
)

func newTestLimiter(limit int64, window time.Duration) *Limiter {
	tiers := map[string]Tier{
		model.TierFree: {Name: model.TierFree, Limit: limit, Window: window},
	}
	return NewLimiter(NewMemoryCounters(), tiers)
}

func TestCheckWithinLimit(t *testing.T) {
	l := newTestLimiter(3, time.Hour)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		d, err := l.Check(ctx, "user:1", model.TierFree)
		if err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d: expected allow", i)
		}
		if d.Limit != 3 {
			t.Errorf("got limit %d, want 3", d.Limit)
		}
		if d.Remaining != 3-i {
			t.Errorf("request %d: got remaining %d, want %d", i, d.Remaining, 3-i)
		}
	}

	d, err := l.Check(ctx, "user:1", model.TierFree)
	if err != nil {
		t.Fatalf("Check over limit: %v", err)
	}
	if d.Allowed {
		t.Error("request 4: expected deny")
	}
	if d.Remaining != 0 {
		t.Errorf("got remaining %d, want 0", d.Remaining)
	}
	if d.ResetAt.IsZero() {
		t.Error("expected a reset time")
	}
}

func TestDeniedRequestsStillCount(t *testing.T) {
	l := newTestLimiter(2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Check(ctx, "user:2", model.TierFree); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}

	// Five attempts counted; a sixth is still denied even though only two
	// were ever allowed.
	d, _ := l.Check(ctx, "user:2", model.TierFree)
	if d.Allowed {
		t.Error("expected deny after sustained overage")
	}
}

func TestBucketsAreIndependent(t *testing.T) {
	l := newTestLimiter(1, time.Hour)
	ctx := context.Background()

	if d, _ := l.Check(ctx, "user:1", model.TierFree); !d.Allowed {
		t.Error("user:1 first request: expected allow")
	}
	if d, _ := l.Check(ctx, "user:1", model.TierFree); d.Allowed {
		t.Error("user:1 second request: expected deny")
	}
	if d, _ := l.Check(ctx, "ip:203.0.113.9", model.TierFree); !d.Allowed {
		t.Error("other bucket must be unaffected")
	}
}

func TestWindowReset(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	counters := NewMemoryCounters()
	now := base
	counters.now = func() time.Time { return now }

	l := NewLimiter(counters, map[string]Tier{
		model.TierFree: {Name: model.TierFree, Limit: 1, Window: time.Hour},
	})
	l.SetClock(func() time.Time { return now })
	ctx := context.Background()

	if d, _ := l.Check(ctx, "user:3", model.TierFree); !d.Allowed {
		t.Fatal("first request: expected allow")
	}
	if d, _ := l.Check(ctx, "user:3", model.TierFree); d.Allowed {
		t.Fatal("second request: expected deny")
	}

	// The next window starts a fresh count.
	now = base.Add(time.Hour)
	d, err := l.Check(ctx, "user:3", model.TierFree)
	if err != nil {
		t.Fatalf("Check after window: %v", err)
	}
	if !d.Allowed {
		t.Error("expected allow in the new window")
	}
	if got, want := d.ResetAt, base.Add(2*time.Hour); !got.Equal(want) {
		t.Errorf("got reset %v, want %v", got, want)
	}
}

func TestUnknownTierFallsBackToFree(t *testing.T) {
	l := NewLimiter(NewMemoryCounters(), nil)

	d, err := l.Check(context.Background(), "user:4", "platinum")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Limit != 100 {
		t.Errorf("got limit %d, want the free tier's 100", d.Limit)
	}

	if got := l.Tier("platinum"); got.Name != model.TierFree {
		t.Errorf("got tier %q, want free", got.Name)
	}
	if got := l.Tier(model.TierEnterprise); got.Limit != 10000 {
		t.Errorf("got enterprise limit %d, want 10000", got.Limit)
	}
}

// Concurrency exactness: N goroutines hammering one bucket must be allowed
// exactly limit times, never limit+1.
func TestCheckConcurrentExactness(t *testing.T) {
	const limit = 50
	const attempts = 200
	l := newTestLimiter(limit, time.Hour)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, "user:hot", model.TierFree)
			if err != nil {
				t.Errorf("Check: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != limit {
		t.Errorf("got %d allowed, want exactly %d", got, limit)
	}
}

// ---------------------------------------------------------------------------
// Memory counter store
// ---------------------------------------------------------------------------

func TestMemoryCountersIncr(t *testing.T) {
	m := NewMemoryCounters()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := m.Incr(ctx, "a", time.Minute)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if got != want {
			t.Errorf("got count %d, want %d", got, want)
		}
	}

	got, _ := m.Incr(ctx, "b", time.Minute)
	if got != 1 {
		t.Errorf("new key: got %d, want 1", got)
	}

	if err := m.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestMemoryCountersExpiry(t *testing.T) {
	m := NewMemoryCounters()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if got, _ := m.Incr(ctx, "a", time.Minute); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	if got, _ := m.Incr(ctx, "a", time.Minute); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}

	// Past the TTL the bucket restarts; later increments never extended it.
	now = now.Add(61 * time.Second)
	if got, _ := m.Incr(ctx, "a", time.Minute); got != 1 {
		t.Errorf("got %d after expiry, want 1", got)
	}
}

// failingCounters simulates a backend outage.
type failingCounters struct{}

func (failingCounters) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingCounters) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestCheckFailsClosed(t *testing.T) {
	l := NewLimiter(failingCounters{}, nil)

	_, err := l.Check(context.Background(), "user:5", model.TierFree)
	if err == nil {
		t.Fatal("expected an error when the counter store is down")
	}
	if err := l.Ping(context.Background()); err == nil {
		t.Error("expected Ping to fail")
	}
}
