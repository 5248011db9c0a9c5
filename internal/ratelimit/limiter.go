package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/purrrlove/perch/internal/model"
)

// Tier holds the quota parameters for one rate-limit tier.
type Tier struct {
	Name   string        `yaml:"name"`
	Limit  int64         `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// DefaultTiers mirrors the platform's production quotas: hourly windows,
// 100/1000/10000 for free/premium/enterprise accounts, and a tight bucket
// for unauthenticated (per-IP) traffic.
func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		model.TierFree:       {Name: model.TierFree, Limit: 100, Window: time.Hour},
		model.TierPremium:    {Name: model.TierPremium, Limit: 1000, Window: time.Hour},
		model.TierEnterprise: {Name: model.TierEnterprise, Limit: 10000, Window: time.Hour},
		model.TierAnonymous:  {Name: model.TierAnonymous, Limit: 60, Window: time.Hour},
	}
}

// Decision is the outcome of one rate check, with the header metadata the
// gateway reports to clients.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter applies fixed-window counting per principal (or per IP for
// anonymous traffic). The check and the increment are one atomic operation
// against the counter store, so a burst of concurrent requests for the same
// bucket cannot jointly exceed the limit.
type Limiter struct {
	counters CounterStore
	tiers    map[string]Tier
	now      func() time.Time
}

// NewLimiter builds a limiter over the given counter store. Nil tiers gets
// the platform defaults.
func NewLimiter(counters CounterStore, tiers map[string]Tier) *Limiter {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Limiter{counters: counters, tiers: tiers, now: time.Now}
}

// SetClock overrides the limiter's time source. Tests only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Check atomically counts one request against the bucket identified by key
// and tier, and decides allow/deny. A denied request is still counted: the
// window keeps reflecting the true attempted volume. Unknown tiers fall
// back to free.
func (l *Limiter) Check(ctx context.Context, key, tier string) (Decision, error) {
	t, ok := l.tiers[tier]
	if !ok {
		t = l.tiers[model.TierFree]
	}

	now := l.now()
	windowStart := now.Truncate(t.Window)
	resetAt := windowStart.Add(t.Window)

	bucket := fmt.Sprintf("ratelimit:%s:%d", key, windowStart.Unix())
	count, err := l.counters.Incr(ctx, bucket, resetAt.Sub(now))
	if err != nil {
		return Decision{}, err
	}

	remaining := t.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= t.Limit,
		Limit:     t.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Ping verifies the counter store is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.counters.Ping(ctx)
}

// Tier returns the parameters for the named tier, falling back to free.
func (l *Limiter) Tier(name string) Tier {
	if t, ok := l.tiers[name]; ok {
		return t
	}
	return l.tiers[model.TierFree]
}
