// Package cache implements the short-TTL recommendation cache on top of
// dgraph-io/ristretto. Entries are keyed by (operation, workload size
// bucket, profile) plus a generation counter; bumping the generation on a
// preference change or health transition orphans every cached ranking in
// O(1) instead of scanning for affected keys.
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

// DefaultTTL is the recommendation cache TTL.
const DefaultTTL = 60 * time.Second

// SizeBucket coarsens the estimated workload size so near-identical
// requests share cache entries.
type SizeBucket string

const (
	BucketSmall  SizeBucket = "small"  // < 1K tokens
	BucketMedium SizeBucket = "medium" // < 10K tokens
	BucketLarge  SizeBucket = "large"  // < 100K tokens
	BucketHuge   SizeBucket = "huge"
)

// BucketFor maps a token estimate to its size bucket.
func BucketFor(tokens int64) SizeBucket {
	switch {
	case tokens < 1_000:
		return BucketSmall
	case tokens < 10_000:
		return BucketMedium
	case tokens < 100_000:
		return BucketLarge
	default:
		return BucketHuge
	}
}

// RecommendationCache memoizes computed rankings for a short TTL. Reads are
// lock-free through ristretto; writes are infrequent.
type RecommendationCache struct {
	c          *ristretto.Cache[string, []types.Recommendation]
	ttl        time.Duration
	generation atomic.Uint64
}

// New creates a recommendation cache. A non-positive ttl falls back to
// DefaultTTL.
func New(ttl time.Duration) (*RecommendationCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []types.Recommendation]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RecommendationCache{c: c, ttl: ttl}, nil
}

func (rc *RecommendationCache) key(op types.OperationType, tokens int64, profile types.ProfileName) string {
	return fmt.Sprintf("%d|%s|%s|%s", rc.generation.Load(), op, BucketFor(tokens), profile)
}

// Get returns the cached ranking for the request shape, if present and
// current.
func (rc *RecommendationCache) Get(op types.OperationType, tokens int64, profile types.ProfileName) ([]types.Recommendation, bool) {
	return rc.c.Get(rc.key(op, tokens, profile))
}

// Put stores a computed ranking under the current generation.
func (rc *RecommendationCache) Put(op types.OperationType, tokens int64, profile types.ProfileName, recs []types.Recommendation) {
	rc.c.SetWithTTL(rc.key(op, tokens, profile), recs, 1, rc.ttl)
}

// Invalidate advances the generation, orphaning all cached rankings.
// Orphaned entries age out of ristretto on their own.
func (rc *RecommendationCache) Invalidate() {
	rc.generation.Add(1)
}

// Generation exposes the current generation counter, mainly for tests.
func (rc *RecommendationCache) Generation() uint64 {
	return rc.generation.Load()
}

// Wait blocks until pending writes are visible. Ristretto applies sets
// asynchronously; tests use this to make Put/Get deterministic.
func (rc *RecommendationCache) Wait() {
	rc.c.Wait()
}

// Close releases cache resources.
func (rc *RecommendationCache) Close() {
	rc.c.Close()
}
