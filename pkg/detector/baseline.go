package detector

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
)

// DefaultBaselineLookback is the historical period used to establish
// each prefix's dominant origin.
const DefaultBaselineLookback = 7 * 24 * time.Hour

const baselineCacheTTL = 48 * time.Hour

// BaselineEntry is the dominant origin observed for a prefix during the
// lookback window, with its occurrence count.
type BaselineEntry struct {
	Origin uint32
	Count  int
}

// Baseline maps prefix -> dominant historical origin. Immutable for a
// detection run; shared read-only across chunks. A missing entry means
// "no baseline".
type Baseline map[string]BaselineEntry

// Lookup returns the baseline origin for a prefix, or 0 if none exists.
func (b Baseline) Lookup(prefix string) (uint32, bool) {
	e, ok := b[prefix]
	if !ok {
		return 0, false
	}
	return e.Origin, true
}

// BaselineBuilder accumulates origin observations over a lookback
// window and finalizes them into per-prefix modal origins. Lookback
// data can be fed in day-sized slices to bound memory. An optional
// Redis client caches baselines across runs so prefixes absent from a
// short lookback can still resolve.
type BaselineBuilder struct {
	redis  *redis.Client
	ctx    context.Context
	counts map[string]map[uint32]int
}

// NewBaselineBuilder creates a builder. redisClient may be nil.
func NewBaselineBuilder(redisClient *redis.Client) *BaselineBuilder {
	return &BaselineBuilder{
		redis:  redisClient,
		ctx:    context.Background(),
		counts: make(map[string]map[uint32]int),
	}
}

// Observe folds a slice of lookback records into the origin counts.
// Withdrawals and records with an empty AS path contribute nothing.
func (b *BaselineBuilder) Observe(records []models.UpdateRecord) {
	for _, rec := range records {
		if !rec.Announce {
			continue
		}
		origin := rec.Origin()
		if origin == 0 {
			continue
		}
		m := b.counts[rec.Prefix]
		if m == nil {
			m = make(map[uint32]int)
			b.counts[rec.Prefix] = m
		}
		m[origin]++
	}
}

// Finalize picks the most frequent origin per prefix and writes the
// result through to the Redis cache when one is configured.
func (b *BaselineBuilder) Finalize() Baseline {
	baseline := make(Baseline, len(b.counts))
	for prefix, origins := range b.counts {
		var best BaselineEntry
		for origin, n := range origins {
			// Lowest ASN wins ties so the mode is deterministic.
			if n > best.Count || (n == best.Count && origin < best.Origin) {
				best = BaselineEntry{Origin: origin, Count: n}
			}
		}
		baseline[prefix] = best
	}

	b.storeCache(baseline)
	return baseline
}

// Build is Observe followed by Finalize, for callers holding the whole
// lookback in memory.
func (b *BaselineBuilder) Build(records []models.UpdateRecord) Baseline {
	b.Observe(records)
	return b.Finalize()
}

// CachedOrigin consults the Redis cache for a prefix with no baseline
// in the current lookback. Returns 0 when unavailable.
func (b *BaselineBuilder) CachedOrigin(prefix string) uint32 {
	if b.redis == nil {
		return 0
	}
	val, err := b.redis.Get(b.ctx, baselineKey(prefix)).Uint64()
	if err != nil {
		return 0
	}
	return uint32(val)
}

func (b *BaselineBuilder) storeCache(baseline Baseline) {
	if b.redis == nil {
		return
	}
	pipe := b.redis.Pipeline()
	for prefix, entry := range baseline {
		pipe.Set(b.ctx, baselineKey(prefix), strconv.FormatUint(uint64(entry.Origin), 10), baselineCacheTTL)
	}
	if _, err := pipe.Exec(b.ctx); err != nil {
		log.Printf("Baseline cache write failed: %v", err)
	}
}

func baselineKey(prefix string) string {
	return "bgp:baseline:" + prefix + ":origin"
}
