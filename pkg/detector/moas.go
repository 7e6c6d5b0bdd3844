package detector

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
	"github.com/jinhyogyeom/bgp-watch/pkg/window"
)

// MOAS thresholds. A MOAS signal from a single peer or a handful of
// updates is usually route-convergence noise, not an anomaly.
const (
	DefaultMoasBucket    = 5 * time.Minute
	DefaultMoasMinPeers  = 2
	DefaultMoasMinEvents = 5
)

// MoasConfig tunes the MOAS detector.
type MoasConfig struct {
	// Bucket groups announcements into fixed time buckets before the
	// multi-origin check. Zero means whole-window mode: the entire
	// input is treated as one bucket, trading temporal precision for
	// simpler state.
	Bucket    time.Duration
	MinPeers  int
	MinEvents int
}

// MoasDetector detects a prefix simultaneously originated by two or
// more distinct origin ASes within a bucket.
type MoasDetector struct {
	cfg MoasConfig
}

// NewMoasDetector creates a MOAS detector. Zero-valued thresholds fall
// back to the defaults; Bucket zero selects whole-window mode.
func NewMoasDetector(cfg MoasConfig) *MoasDetector {
	if cfg.MinPeers <= 0 {
		cfg.MinPeers = DefaultMoasMinPeers
	}
	if cfg.MinEvents <= 0 {
		cfg.MinEvents = DefaultMoasMinEvents
	}
	return &MoasDetector{cfg: cfg}
}

type moasKey struct {
	prefix string
	bucket time.Time
}

// originEvidence summarizes one origin's observations inside a group.
type originEvidence struct {
	Peers         []uint32   `json:"peers"`
	Events        int        `json:"events"`
	SampleASPaths [][]uint32 `json:"sample_as_paths,omitempty"`
}

// Detect groups announcements by (prefix, bucket) and emits one
// HijackEvent of type MOAS per group with >=2 distinct origins that
// clears the peer and event thresholds.
func (d *MoasDetector) Detect(records []models.UpdateRecord) []models.HijackEvent {
	groups := make(map[moasKey][]models.UpdateRecord)
	var order []moasKey
	for _, rec := range records {
		if !rec.Announce || rec.Origin() == 0 {
			continue
		}
		k := moasKey{prefix: rec.Prefix}
		if d.cfg.Bucket > 0 {
			k.bucket = window.BucketStart(rec.Timestamp, d.cfg.Bucket)
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rec)
	}

	analyzedAt := time.Now().UTC()
	var events []models.HijackEvent
	for _, k := range order {
		group := groups[k]
		origins := distinctOrigins(group)
		if len(origins) < 2 {
			continue
		}
		peers := distinctPeers(group)
		if peers < d.cfg.MinPeers {
			continue
		}
		if len(group) < d.cfg.MinEvents {
			continue
		}

		first, last := timeRange(group)
		eventTime := k.bucket
		if d.cfg.Bucket <= 0 {
			eventTime = first
		}

		perOrigin := buildOriginEvidence(group, true)
		evidence := map[string]interface{}{
			"bucket_time": eventTime.Format(time.RFC3339),
			"per_origin":  perOrigin,
		}
		evidenceJSON, _ := json.Marshal(evidence)

		const layout = "2006-01-02 15:04:05"
		summary := fmt.Sprintf("[%s ~ %s] MOAS for %s | origins=%v | peers=%d | events=%d",
			first.Format(layout), last.Format(layout), k.prefix, origins, peers, len(group))

		events = append(events, models.HijackEvent{
			Time:          eventTime,
			Prefix:        k.prefix,
			EventType:     models.EventTypeMOAS,
			OriginASNs:    origins,
			DistinctPeers: peers,
			TotalEvents:   len(group),
			FirstUpdate:   first,
			LastUpdate:    last,
			EvidenceJSON:  string(evidenceJSON),
			Summary:       summary,
			AnalyzedAt:    analyzedAt,
		})
	}
	return events
}

func distinctOrigins(group []models.UpdateRecord) []uint32 {
	set := make(map[uint32]struct{})
	for _, rec := range group {
		if o := rec.Origin(); o != 0 {
			set[o] = struct{}{}
		}
	}
	origins := make([]uint32, 0, len(set))
	for o := range set {
		origins = append(origins, o)
	}
	sort.Slice(origins, func(i, j int) bool { return origins[i] < origins[j] })
	return origins
}

func distinctPeers(group []models.UpdateRecord) int {
	set := make(map[uint32]struct{})
	for _, rec := range group {
		set[rec.PeerASN] = struct{}{}
	}
	return len(set)
}

func timeRange(group []models.UpdateRecord) (first, last time.Time) {
	first, last = group[0].Timestamp, group[0].Timestamp
	for _, rec := range group[1:] {
		if rec.Timestamp.Before(first) {
			first = rec.Timestamp
		}
		if rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}
	return first, last
}

// buildOriginEvidence summarizes peers and event counts per origin AS,
// keyed by the origin's decimal string for the JSON blob. withSamples
// additionally keeps the first observed AS path per origin.
func buildOriginEvidence(group []models.UpdateRecord, withSamples bool) map[string]originEvidence {
	byOrigin := make(map[uint32][]models.UpdateRecord)
	for _, rec := range group {
		o := rec.Origin()
		if o == 0 {
			continue
		}
		byOrigin[o] = append(byOrigin[o], rec)
	}

	out := make(map[string]originEvidence, len(byOrigin))
	for origin, recs := range byOrigin {
		peerSet := make(map[uint32]struct{})
		for _, rec := range recs {
			peerSet[rec.PeerASN] = struct{}{}
		}
		peers := make([]uint32, 0, len(peerSet))
		for p := range peerSet {
			peers = append(peers, p)
		}
		sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

		ev := originEvidence{Peers: peers, Events: len(recs)}
		if withSamples && len(recs) > 0 {
			ev.SampleASPaths = [][]uint32{recs[0].ASPath}
		}
		out[fmt.Sprintf("%d", origin)] = ev
	}
	return out
}
