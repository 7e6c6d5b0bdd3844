// Package detector implements the BGP anomaly detectors: flap, loop,
// MOAS, origin hijack, and subprefix hijack. Detectors are pure over
// their input slice; they hold configuration only and are safe to run
// concurrently against the same records.
package detector

import (
	"fmt"
	"sort"
	"time"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
)

// Flap thresholds. "default" matches the per-prefix analysis profile,
// "strict" only reports sustained oscillation.
const (
	DefaultFlapThreshold      = 60 * time.Second
	DefaultMinFlapTransitions = 2
	StrictFlapThreshold       = 10 * time.Second
	StrictMinFlapTransitions  = 5
)

// FlapConfig tunes the flap detector.
type FlapConfig struct {
	// Threshold is the maximum interval between two records for the
	// transition to count as a flap.
	Threshold time.Duration
	// MinTransitions is the minimum flap count for a group to be reported.
	MinTransitions int
	// ConsiderPathChange also counts announce->announce transitions
	// whose AS path differs as flaps.
	ConsiderPathChange bool
}

// FlapProfile returns the named threshold profile, defaulting to
// DefaultFlapThreshold/DefaultMinFlapTransitions for unknown names.
func FlapProfile(name string) FlapConfig {
	if name == "strict" {
		return FlapConfig{Threshold: StrictFlapThreshold, MinTransitions: StrictMinFlapTransitions}
	}
	return FlapConfig{Threshold: DefaultFlapThreshold, MinTransitions: DefaultMinFlapTransitions}
}

// FlapDetector flags (prefix, peer) groups whose announce/withdraw
// state oscillates rapidly.
type FlapDetector struct {
	cfg FlapConfig
}

// NewFlapDetector creates a flap detector. Zero-valued config fields
// fall back to the default profile.
func NewFlapDetector(cfg FlapConfig) *FlapDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultFlapThreshold
	}
	if cfg.MinTransitions <= 0 {
		cfg.MinTransitions = DefaultMinFlapTransitions
	}
	return &FlapDetector{cfg: cfg}
}

type flapKey struct {
	prefix string
	peer   uint32
}

// Detect scans the records grouped by (prefix, peer) and returns one
// FlapEvent per group whose flap-transition count reaches the minimum.
// Results are ordered by first appearance of the group in the input.
func (d *FlapDetector) Detect(records []models.UpdateRecord) []models.FlapEvent {
	groups := make(map[flapKey][]models.UpdateRecord)
	var order []flapKey
	for _, rec := range records {
		k := flapKey{prefix: rec.Prefix, peer: rec.PeerASN}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rec)
	}

	analyzedAt := time.Now().UTC()
	var events []models.FlapEvent
	for _, k := range order {
		group := groups[k]
		// Stable sort keeps ingestion order as the tie-break for equal
		// timestamps, so results are deterministic.
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		flaps := d.countFlaps(group)
		if flaps < d.cfg.MinTransitions {
			continue
		}

		first := group[0].Timestamp
		last := group[len(group)-1].Timestamp
		events = append(events, models.FlapEvent{
			Time:        first,
			Prefix:      k.prefix,
			PeerASN:     k.peer,
			TotalEvents: len(group),
			FlapCount:   flaps,
			FirstUpdate: first,
			LastUpdate:  last,
			Summary:     flapSummary(k.prefix, k.peer, len(group), first, last, flaps),
			AnalyzedAt:  analyzedAt,
		})
	}
	return events
}

func (d *FlapDetector) countFlaps(group []models.UpdateRecord) int {
	flaps := 0
	for i := 1; i < len(group); i++ {
		prev, cur := group[i-1], group[i]
		dt := cur.Timestamp.Sub(prev.Timestamp)
		if dt > d.cfg.Threshold {
			continue
		}
		if cur.Announce != prev.Announce {
			flaps++
			continue
		}
		if d.cfg.ConsiderPathChange && cur.Announce && prev.Announce && !pathsEqual(prev.ASPath, cur.ASPath) {
			flaps++
		}
	}
	return flaps
}

func pathsEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func flapSummary(prefix string, peer uint32, total int, first, last time.Time, count int) string {
	const layout = "2006-01-02 15:04:05"
	return fmt.Sprintf(
		"[%s ~ %s BGP Updates – Prefix: %s (peer_as: %d)\n"+
			"- Total updates: %d\n"+
			"- Update time range: %s ~ %s\n"+
			"- Flap (rapid A/W) count: %d",
		first.Format(layout), last.Format(layout), prefix, peer,
		total, first.Format(layout), last.Format(layout), count)
}
