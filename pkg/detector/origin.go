package detector

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
)

// Origin-hijack thresholds. The ratio requirement prevents flagging
// transient minority-origin noise as a takeover.
const (
	DefaultOriginMinPeers  = 2
	DefaultOriginMinEvents = 5
	DefaultNewOriginRatio  = 0.60
)

// OriginConfig tunes the origin-hijack detector.
type OriginConfig struct {
	MinPeers  int
	MinEvents int
	// NewOriginRatio is the minimum share of window events the new
	// dominant origin must hold to count as a takeover.
	NewOriginRatio float64
	// RequireBaseline skips prefixes with no baseline. When false, any
	// dominant origin for a baseline-less prefix is flagged.
	RequireBaseline bool
}

// OriginDetector flags prefixes whose dominant origin AS in the
// current window differs from the historical baseline.
type OriginDetector struct {
	cfg      OriginConfig
	baseline Baseline
	builder  *BaselineBuilder
}

// NewOriginDetector creates an origin-hijack detector bound to a
// prebuilt baseline. builder may be nil; when set, its cross-run cache
// backfills prefixes the lookback window did not cover.
func NewOriginDetector(cfg OriginConfig, baseline Baseline, builder *BaselineBuilder) *OriginDetector {
	if cfg.MinPeers <= 0 {
		cfg.MinPeers = DefaultOriginMinPeers
	}
	if cfg.MinEvents <= 0 {
		cfg.MinEvents = DefaultOriginMinEvents
	}
	if cfg.NewOriginRatio <= 0 {
		cfg.NewOriginRatio = DefaultNewOriginRatio
	}
	return &OriginDetector{cfg: cfg, baseline: baseline, builder: builder}
}

// Detect computes, per prefix, the dominant origin over the whole
// window and flags it when it displaces the baseline origin with at
// least NewOriginRatio of the window's announcements.
func (d *OriginDetector) Detect(records []models.UpdateRecord) []models.HijackEvent {
	groups := make(map[string][]models.UpdateRecord)
	var order []string
	for _, rec := range records {
		if !rec.Announce || rec.Origin() == 0 {
			continue
		}
		if _, seen := groups[rec.Prefix]; !seen {
			order = append(order, rec.Prefix)
		}
		groups[rec.Prefix] = append(groups[rec.Prefix], rec)
	}

	analyzedAt := time.Now().UTC()
	var events []models.HijackEvent
	for _, prefix := range order {
		group := groups[prefix]
		if len(group) < d.cfg.MinEvents {
			continue
		}
		peers := distinctPeers(group)
		if peers < d.cfg.MinPeers {
			continue
		}

		topOrigin, topCount := dominantOrigin(group)
		topRatio := float64(topCount) / float64(len(group))

		baselineOrigin, haveBaseline := d.lookupBaseline(prefix)
		if !haveBaseline {
			if d.cfg.RequireBaseline {
				continue
			}
		} else if topOrigin == baselineOrigin || topRatio < d.cfg.NewOriginRatio {
			continue
		}

		first, last := timeRange(group)
		perOrigin := buildOriginEvidence(group, false)
		evidence := map[string]interface{}{
			"window": map[string]string{
				"start": first.Format(time.RFC3339),
				"end":   last.Format(time.RFC3339),
			},
			"baseline_origin": baselineOrigin,
			"top_origin":      topOrigin,
			"top_ratio":       round3(topRatio),
			"per_origin":      perOrigin,
		}
		evidenceJSON, _ := json.Marshal(evidence)

		const layout = "2006-01-02 15:04:05"
		summary := fmt.Sprintf(
			"[%s ~ %s] Origin change for %s | baseline=%d → new=%d (%d%% window share) | peers=%d | events=%d",
			first.Format(layout), last.Format(layout), prefix,
			baselineOrigin, topOrigin, int(100*topRatio), peers, len(group))

		events = append(events, models.HijackEvent{
			Time:           first,
			Prefix:         prefix,
			EventType:      models.EventTypeOrigin,
			OriginASNs:     []uint32{topOrigin},
			DistinctPeers:  peers,
			TotalEvents:    len(group),
			FirstUpdate:    first,
			LastUpdate:     last,
			BaselineOrigin: baselineOrigin,
			TopOrigin:      topOrigin,
			TopRatio:       topRatio,
			EvidenceJSON:   string(evidenceJSON),
			Summary:        summary,
			AnalyzedAt:     analyzedAt,
		})
	}
	return events
}

func (d *OriginDetector) lookupBaseline(prefix string) (uint32, bool) {
	if origin, ok := d.baseline.Lookup(prefix); ok {
		return origin, true
	}
	if d.builder != nil {
		if origin := d.builder.CachedOrigin(prefix); origin != 0 {
			return origin, true
		}
	}
	return 0, false
}

func dominantOrigin(group []models.UpdateRecord) (origin uint32, count int) {
	counts := make(map[uint32]int)
	for _, rec := range group {
		counts[rec.Origin()]++
	}
	for o, n := range counts {
		if n > count || (n == count && o < origin) {
			origin, count = o, n
		}
	}
	return origin, count
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}
