package detector

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
	"github.com/jinhyogyeom/bgp-watch/pkg/window"
)

// DefaultSubprefixBucket groups announcements before the containment
// check. Unlike MOAS, a single peer observing a more-specific from a
// foreign origin is already significant.
const DefaultSubprefixBucket = 5 * time.Minute

// SubprefixConfig tunes the subprefix-hijack detector.
type SubprefixConfig struct {
	Bucket time.Duration
}

// SubprefixDetector detects a more-specific prefix advertised by an
// origin set not covered by its less-specific parent's origin set
// within the same bucket.
type SubprefixDetector struct {
	cfg SubprefixConfig
}

// NewSubprefixDetector creates a subprefix-hijack detector.
func NewSubprefixDetector(cfg SubprefixConfig) *SubprefixDetector {
	if cfg.Bucket <= 0 {
		cfg.Bucket = DefaultSubprefixBucket
	}
	return &SubprefixDetector{cfg: cfg}
}

// Detect buckets announcements, parses observed prefixes, and flags
// every (parent, more-specific) pair where the sub-prefix's origin set
// is not a subset of the parent's. Malformed prefix strings are
// skipped.
func (d *SubprefixDetector) Detect(records []models.UpdateRecord) []models.HijackEvent {
	buckets := make(map[time.Time][]models.UpdateRecord)
	var order []time.Time
	for _, rec := range records {
		if !rec.Announce || rec.Origin() == 0 {
			continue
		}
		b := window.BucketStart(rec.Timestamp, d.cfg.Bucket)
		if _, seen := buckets[b]; !seen {
			order = append(order, b)
		}
		buckets[b] = append(buckets[b], rec)
	}

	analyzedAt := time.Now().UTC()
	var events []models.HijackEvent
	for _, bucket := range order {
		group := buckets[bucket]
		events = append(events, d.detectBucket(bucket, group, analyzedAt)...)
	}
	return events
}

func (d *SubprefixDetector) detectBucket(bucket time.Time, group []models.UpdateRecord, analyzedAt time.Time) []models.HijackEvent {
	origins := make(map[netip.Prefix]map[uint32]struct{})
	for _, rec := range group {
		pfx, err := netip.ParsePrefix(rec.Prefix)
		if err != nil {
			continue
		}
		pfx = pfx.Masked()
		set := origins[pfx]
		if set == nil {
			set = make(map[uint32]struct{})
			origins[pfx] = set
		}
		set[rec.Origin()] = struct{}{}
	}
	if len(origins) < 2 {
		return nil
	}

	prefixes := make([]netip.Prefix, 0, len(origins))
	for pfx := range origins {
		prefixes = append(prefixes, pfx)
	}
	// Shorter masks first, addresses as tie-break, so event order is
	// stable across runs.
	sort.Slice(prefixes, func(i, j int) bool {
		if prefixes[i].Bits() != prefixes[j].Bits() {
			return prefixes[i].Bits() < prefixes[j].Bits()
		}
		return prefixes[i].Addr().Less(prefixes[j].Addr())
	})

	first, last := timeRange(group)
	peers := distinctPeers(group)

	var events []models.HijackEvent
	for _, sub := range prefixes {
		for _, sup := range prefixes {
			if sup.Bits() >= sub.Bits() || !sup.Contains(sub.Addr()) {
				continue
			}
			subOrigins := origins[sub]
			supOrigins := origins[sup]
			if isSubset(subOrigins, supOrigins) {
				continue
			}

			evidence := map[string]interface{}{
				"bucket_time":   bucket.Format(time.RFC3339),
				"super_prefix":  sup.String(),
				"super_origins": sortedOrigins(supOrigins),
				"sub_prefix":    sub.String(),
				"sub_origins":   sortedOrigins(subOrigins),
			}
			evidenceJSON, _ := json.Marshal(evidence)

			const layout = "2006-01-02 15:04:05"
			summary := fmt.Sprintf(
				"[%s ~ %s] Subprefix hijack: %s (origins=%v) under %s (origins=%v)",
				first.Format(layout), last.Format(layout),
				sub, sortedOrigins(subOrigins), sup, sortedOrigins(supOrigins))

			events = append(events, models.HijackEvent{
				Time:          bucket,
				Prefix:        sub.String(),
				EventType:     models.EventTypeSubprefix,
				OriginASNs:    sortedOrigins(subOrigins),
				DistinctPeers: peers,
				TotalEvents:   len(group),
				FirstUpdate:   first,
				LastUpdate:    last,
				ParentPrefix:  sup.String(),
				MoreSpecific:  sub.String(),
				EvidenceJSON:  string(evidenceJSON),
				Summary:       summary,
				AnalyzedAt:    analyzedAt,
			})
		}
	}
	return events
}

func isSubset(sub, sup map[uint32]struct{}) bool {
	for o := range sub {
		if _, ok := sup[o]; !ok {
			return false
		}
	}
	return true
}

func sortedOrigins(set map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(set))
	for o := range set {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
