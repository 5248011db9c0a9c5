package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/purrrlove/perch/internal/audit"
	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/ratelimit"
)

// RateLimit enforces per-principal quotas after authentication. The bucket
// key and tier come from the principal; requests with no principal in
// context (the unauthenticated OAuth surface) count against a per-IP
// anonymous bucket. Every response carries the X-RateLimit headers; a
// denial gets a 429 plus exactly one security event. A counter-store
// failure denies the request.
func RateLimit(limiter *ratelimit.Limiter, sink audit.Sink, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + remoteIP(r)
			tier := model.TierAnonymous
			if p := GetPrincipal(r.Context()); p != nil {
				key = p.RateKey()
				tier = p.Tier
			}

			d, err := limiter.Check(r.Context(), key, tier)
			if err != nil {
				writeError(w, r, gateway.ErrStoreUnavailable(err), devMode)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				sink.Record(r.Context(), model.EventRateLimited, remoteIP(r), map[string]any{
					"bucket": key,
					"tier":   tier,
					"limit":  d.Limit,
				})
				retry := int64(time.Until(d.ResetAt).Seconds()) + 1
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", strconv.FormatInt(retry, 10))
				writeError(w, r, gateway.ErrRateLimited(), devMode)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
