package oracle

import (
	"context"
	"time"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/ports"
)

// CachingLookup wraps a Repository to implement the spec's cache policy:
// a hit younger than ttl is reused unless the market's mid price has
// drifted past deltaPct since the cache was written.
type CachingLookup struct {
	repo     ports.Repository
	ttl      time.Duration
	deltaPct float64
}

// NewCachingLookup builds a cache lookup helper over repo.
func NewCachingLookup(repo ports.Repository, ttl time.Duration, deltaPct float64) *CachingLookup {
	return &CachingLookup{repo: repo, ttl: ttl, deltaPct: deltaPct}
}

// Lookup returns a usable cached Valuation for conditionID, or ok=false if
// there is none, it's stale, or the market's mid price has moved more than
// deltaPct since lastObservedMid (the mid price recorded the last time this
// condition was scanned — the caller's responsibility to track, since the
// cache row itself stores no market price).
func (c *CachingLookup) Lookup(ctx context.Context, conditionID string, lastObservedMid, currentMid float64) (domain.Valuation, bool, error) {
	v, ok, err := c.repo.GetValuationCache(ctx, conditionID, c.ttl)
	if err != nil || !ok {
		return domain.Valuation{}, false, err
	}
	if ShouldBypassCache(lastObservedMid, currentMid, c.deltaPct) {
		return domain.Valuation{}, false, nil
	}
	return v, true, nil
}

// Store persists v into the cache, grounded on the single-coupling-point
// rule: the cache is the only place a valuation is read back from without
// re-running the oracle.
func (c *CachingLookup) Store(ctx context.Context, v domain.Valuation) error {
	return c.repo.PutValuationCache(ctx, v)
}
