// Package selector implements the pure, stateless key-selection policy
package selector

import (
	"context"
	"time"

	"ollamaproxy/internal/services/proxy/penalty"
)

// UsageSource is the minimal UsageLedger surface the selector consults
type UsageSource interface {
	Usage2h(ctx context.Context, keyIndices []int) map[int]int64
}

// Select implements spec §4.4: pick the next key index to try, excluding
// excluded and penalized keys, breaking ties on least 2h usage then lowest
// index. Returns ok=false when no candidate exists.
func Select(ctx context.Context, indices []int, excluded map[int]bool, reg *penalty.Registry, usage UsageSource, now time.Time) (int, bool) {
	var candidates []int
	var notExcluded []int
	for _, i := range indices {
		if excluded[i] {
			continue
		}
		notExcluded = append(notExcluded, i)
		if !reg.IsPenalized(i, now) {
			candidates = append(candidates, i)
		}
	}

	if len(candidates) == 0 {
		return earliestExpiry(notExcluded, reg)
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}

	usage2h := usage.Usage2h(ctx, candidates)
	best := candidates[0]
	bestUsage := usage2h[best]
	for _, i := range candidates[1:] {
		u := usage2h[i]
		if u < bestUsage || (u == bestUsage && i < best) {
			best = i
			bestUsage = u
		}
	}
	return best, true
}

// earliestExpiry returns, among notExcluded, the one with the earliest
// expires_at; false if notExcluded is empty
func earliestExpiry(notExcluded []int, reg *penalty.Registry) (int, bool) {
	if len(notExcluded) == 0 {
		return 0, false
	}
	best := notExcluded[0]
	bestEntry, ok := reg.Get(best)
	var bestExpiry time.Time
	if ok {
		bestExpiry = bestEntry.ExpiresAt
	}
	for _, i := range notExcluded[1:] {
		e, ok := reg.Get(i)
		var exp time.Time
		if ok {
			exp = e.ExpiresAt
		}
		if exp.Before(bestExpiry) {
			best = i
			bestExpiry = exp
		}
	}
	return best, true
}
