package detector

import (
	"testing"
	"time"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
)

var originBase = time.Date(2025, 5, 25, 10, 0, 0, 0, time.UTC)

// originWindow builds n announcements for prefix from origin, spreading
// them across the given peers.
func originWindow(prefix string, origin uint32, peers []uint32, n int) []models.UpdateRecord {
	records := make([]models.UpdateRecord, 0, n)
	for i := 0; i < n; i++ {
		peer := peers[i%len(peers)]
		records = append(records, models.UpdateRecord{
			Timestamp: originBase.Add(time.Duration(i) * time.Minute),
			PeerASN:   peer,
			ASPath:    []uint32{peer, 3356, origin},
			Prefix:    prefix,
			Announce:  true,
		})
	}
	return records
}

func TestOriginDetector_DominantNewOrigin(t *testing.T) {
	baseline := Baseline{"10.0.0.0/24": {Origin: 100, Count: 8}}

	// Origin 200 holds 7 of 10 announcements (ratio 0.70).
	records := append(
		originWindow("10.0.0.0/24", 200, []uint32{10, 20, 30}, 7),
		originWindow("10.0.0.0/24", 100, []uint32{40}, 3)...)

	d := NewOriginDetector(OriginConfig{MinPeers: 2, MinEvents: 5, NewOriginRatio: 0.60, RequireBaseline: true}, baseline, nil)
	events := d.Detect(records)
	if len(events) != 1 {
		t.Fatalf("Expected 1 origin hijack event, got %d", len(events))
	}

	ev := events[0]
	if ev.EventType != models.EventTypeOrigin {
		t.Errorf("Expected event type ORIGIN, got %s", ev.EventType)
	}
	if ev.BaselineOrigin != 100 || ev.TopOrigin != 200 {
		t.Errorf("Expected baseline=100 top=200, got baseline=%d top=%d", ev.BaselineOrigin, ev.TopOrigin)
	}
	if ev.TopRatio < 0.69 || ev.TopRatio > 0.71 {
		t.Errorf("Expected top_ratio ~0.70, got %f", ev.TopRatio)
	}
	if len(ev.OriginASNs) != 1 || ev.OriginASNs[0] != 200 {
		t.Errorf("Expected origin_asns=[200], got %v", ev.OriginASNs)
	}
}

func TestOriginDetector_MinorityOriginIgnored(t *testing.T) {
	baseline := Baseline{"10.0.0.0/24": {Origin: 100, Count: 8}}

	// Origin 200 holds only 4 of 10 (ratio 0.40); origin 100 keeps 6.
	records := append(
		originWindow("10.0.0.0/24", 100, []uint32{10, 20}, 6),
		originWindow("10.0.0.0/24", 200, []uint32{30, 40}, 4)...)

	d := NewOriginDetector(OriginConfig{MinPeers: 2, MinEvents: 5, NewOriginRatio: 0.60, RequireBaseline: true}, baseline, nil)
	if events := d.Detect(records); len(events) != 0 {
		t.Errorf("Expected no events for minority origin, got %d", len(events))
	}
}

func TestOriginDetector_UnchangedOriginIgnored(t *testing.T) {
	baseline := Baseline{"10.0.0.0/24": {Origin: 100, Count: 8}}
	records := originWindow("10.0.0.0/24", 100, []uint32{10, 20}, 10)

	d := NewOriginDetector(OriginConfig{RequireBaseline: true}, baseline, nil)
	if events := d.Detect(records); len(events) != 0 {
		t.Errorf("Expected no events when origin matches baseline, got %d", len(events))
	}
}

func TestOriginDetector_NoBaselinePolicy(t *testing.T) {
	records := originWindow("10.0.0.0/24", 200, []uint32{10, 20, 30}, 10)

	skip := NewOriginDetector(OriginConfig{RequireBaseline: true}, Baseline{}, nil)
	if events := skip.Detect(records); len(events) != 0 {
		t.Errorf("Expected no events with require-baseline, got %d", len(events))
	}

	flag := NewOriginDetector(OriginConfig{RequireBaseline: false}, Baseline{}, nil)
	events := flag.Detect(records)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event without require-baseline, got %d", len(events))
	}
	if events[0].BaselineOrigin != 0 {
		t.Errorf("Expected zero baseline origin, got %d", events[0].BaselineOrigin)
	}
	if events[0].TopOrigin != 200 {
		t.Errorf("Expected top_origin=200, got %d", events[0].TopOrigin)
	}
}

func TestOriginDetector_Thresholds(t *testing.T) {
	baseline := Baseline{"10.0.0.0/24": {Origin: 100, Count: 8}}
	d := NewOriginDetector(OriginConfig{MinPeers: 2, MinEvents: 5, NewOriginRatio: 0.60, RequireBaseline: true}, baseline, nil)

	// Too few events.
	few := originWindow("10.0.0.0/24", 200, []uint32{10, 20}, 4)
	if events := d.Detect(few); len(events) != 0 {
		t.Errorf("Expected no events below min_events, got %d", len(events))
	}

	// Single peer.
	onePeer := originWindow("10.0.0.0/24", 200, []uint32{10}, 10)
	if events := d.Detect(onePeer); len(events) != 0 {
		t.Errorf("Expected no events below min_peers, got %d", len(events))
	}
}

func TestBaselineBuilder_ModalOrigin(t *testing.T) {
	b := NewBaselineBuilder(nil)

	// Day one: origin 100 dominates. Day two adds more of the same and
	// a competing origin for another prefix.
	b.Observe(append(
		originWindow("10.0.0.0/24", 100, []uint32{10}, 5),
		originWindow("10.0.0.0/24", 200, []uint32{20}, 2)...))
	b.Observe(originWindow("192.168.0.0/16", 300, []uint32{30}, 3))

	baseline := b.Finalize()
	if origin, ok := baseline.Lookup("10.0.0.0/24"); !ok || origin != 100 {
		t.Errorf("Expected baseline 100 for 10.0.0.0/24, got %d (ok=%v)", origin, ok)
	}
	if entry := baseline["10.0.0.0/24"]; entry.Count != 5 {
		t.Errorf("Expected count=5, got %d", entry.Count)
	}
	if origin, ok := baseline.Lookup("192.168.0.0/16"); !ok || origin != 300 {
		t.Errorf("Expected baseline 300 for 192.168.0.0/16, got %d (ok=%v)", origin, ok)
	}
	if _, ok := baseline.Lookup("172.16.0.0/12"); ok {
		t.Error("Expected no baseline for unseen prefix")
	}
}

func TestBaselineBuilder_TieIsDeterministic(t *testing.T) {
	b := NewBaselineBuilder(nil)
	b.Observe(append(
		originWindow("10.0.0.0/24", 200, []uint32{10}, 3),
		originWindow("10.0.0.0/24", 100, []uint32{20}, 3)...))

	baseline := b.Finalize()
	if origin, _ := baseline.Lookup("10.0.0.0/24"); origin != 100 {
		t.Errorf("Tie must resolve to lowest ASN 100, got %d", origin)
	}
}

func TestBaselineBuilder_IgnoresWithdrawalsAndEmptyPaths(t *testing.T) {
	b := NewBaselineBuilder(nil)
	b.Observe([]models.UpdateRecord{
		{Timestamp: originBase, PeerASN: 10, Prefix: "10.0.0.0/24", Announce: false, ASPath: []uint32{10, 100}},
		{Timestamp: originBase, PeerASN: 10, Prefix: "10.0.0.0/24", Announce: true},
	})
	if baseline := b.Finalize(); len(baseline) != 0 {
		t.Errorf("Expected empty baseline, got %d entries", len(baseline))
	}
}
