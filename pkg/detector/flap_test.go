package detector

import (
	"testing"
	"time"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
)

var flapBase = time.Date(2025, 5, 25, 10, 0, 0, 0, time.UTC)

func flapRecord(prefix string, peer uint32, offset time.Duration, announce bool, path ...uint32) models.UpdateRecord {
	return models.UpdateRecord{
		Timestamp: flapBase.Add(offset),
		PeerASN:   peer,
		ASPath:    path,
		Prefix:    prefix,
		Announce:  announce,
	}
}

func TestFlapDetector_RapidOscillation(t *testing.T) {
	// A@t0, W@t0+5s, A@t0+8s: two flips within the threshold.
	records := []models.UpdateRecord{
		flapRecord("10.0.0.0/24", 6939, 0, true, 6939, 3356, 13335),
		flapRecord("10.0.0.0/24", 6939, 5*time.Second, false),
		flapRecord("10.0.0.0/24", 6939, 8*time.Second, true, 6939, 3356, 13335),
	}

	d := NewFlapDetector(FlapConfig{Threshold: 60 * time.Second, MinTransitions: 2})
	events := d.Detect(records)
	if len(events) != 1 {
		t.Fatalf("Expected 1 flap event, got %d", len(events))
	}

	ev := events[0]
	if ev.FlapCount != 2 {
		t.Errorf("Expected flap_count=2, got %d", ev.FlapCount)
	}
	if ev.TotalEvents != 3 {
		t.Errorf("Expected total_events=3, got %d", ev.TotalEvents)
	}
	if ev.Prefix != "10.0.0.0/24" || ev.PeerASN != 6939 {
		t.Errorf("Wrong group: %s peer %d", ev.Prefix, ev.PeerASN)
	}
	if !ev.FirstUpdate.Equal(flapBase) || !ev.LastUpdate.Equal(flapBase.Add(8*time.Second)) {
		t.Errorf("Wrong time range: %v ~ %v", ev.FirstUpdate, ev.LastUpdate)
	}

	// Raising the minimum suppresses the same input.
	strict := NewFlapDetector(FlapConfig{Threshold: 60 * time.Second, MinTransitions: 3})
	if events := strict.Detect(records); len(events) != 0 {
		t.Errorf("Expected no events with min_transitions=3, got %d", len(events))
	}
}

func TestFlapDetector_SlowOscillationIgnored(t *testing.T) {
	records := []models.UpdateRecord{
		flapRecord("10.0.0.0/24", 6939, 0, true),
		flapRecord("10.0.0.0/24", 6939, 2*time.Minute, false),
		flapRecord("10.0.0.0/24", 6939, 4*time.Minute, true),
	}

	d := NewFlapDetector(FlapConfig{Threshold: 60 * time.Second, MinTransitions: 2})
	if events := d.Detect(records); len(events) != 0 {
		t.Errorf("Expected no events for slow transitions, got %d", len(events))
	}
}

func TestFlapDetector_SingleRecordNeverFlaps(t *testing.T) {
	records := []models.UpdateRecord{
		flapRecord("10.0.0.0/24", 6939, 0, true),
	}
	d := NewFlapDetector(FlapConfig{})
	if events := d.Detect(records); len(events) != 0 {
		t.Errorf("Expected no events for single record, got %d", len(events))
	}
}

func TestFlapDetector_GroupedByPeer(t *testing.T) {
	// The same prefix oscillating from two peers forms two groups.
	records := []models.UpdateRecord{
		flapRecord("10.0.0.0/24", 6939, 0, true),
		flapRecord("10.0.0.0/24", 174, 1*time.Second, true),
		flapRecord("10.0.0.0/24", 6939, 5*time.Second, false),
		flapRecord("10.0.0.0/24", 174, 6*time.Second, false),
		flapRecord("10.0.0.0/24", 6939, 8*time.Second, true),
		flapRecord("10.0.0.0/24", 174, 9*time.Second, true),
	}

	d := NewFlapDetector(FlapConfig{Threshold: 60 * time.Second, MinTransitions: 2})
	events := d.Detect(records)
	if len(events) != 2 {
		t.Fatalf("Expected 2 flap events (one per peer), got %d", len(events))
	}
	if events[0].PeerASN != 6939 || events[1].PeerASN != 174 {
		t.Errorf("Expected peers in first-seen order 6939,174; got %d,%d",
			events[0].PeerASN, events[1].PeerASN)
	}
}

func TestFlapDetector_PathChangeMode(t *testing.T) {
	records := []models.UpdateRecord{
		flapRecord("10.0.0.0/24", 6939, 0, true, 6939, 3356, 13335),
		flapRecord("10.0.0.0/24", 6939, 5*time.Second, true, 6939, 174, 13335),
		flapRecord("10.0.0.0/24", 6939, 10*time.Second, true, 6939, 3356, 13335),
	}

	// Without path-change mode, announce->announce is not a flap.
	plain := NewFlapDetector(FlapConfig{Threshold: 60 * time.Second, MinTransitions: 2})
	if events := plain.Detect(records); len(events) != 0 {
		t.Errorf("Expected no events without path-change mode, got %d", len(events))
	}

	withPath := NewFlapDetector(FlapConfig{Threshold: 60 * time.Second, MinTransitions: 2, ConsiderPathChange: true})
	events := withPath.Detect(records)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event in path-change mode, got %d", len(events))
	}
	if events[0].FlapCount != 2 {
		t.Errorf("Expected flap_count=2, got %d", events[0].FlapCount)
	}

	// Identical paths do not count even in path-change mode.
	same := []models.UpdateRecord{
		flapRecord("10.0.0.0/24", 6939, 0, true, 6939, 3356, 13335),
		flapRecord("10.0.0.0/24", 6939, 5*time.Second, true, 6939, 3356, 13335),
		flapRecord("10.0.0.0/24", 6939, 10*time.Second, true, 6939, 3356, 13335),
	}
	if events := withPath.Detect(same); len(events) != 0 {
		t.Errorf("Expected no events for unchanged paths, got %d", len(events))
	}
}

func TestFlapDetector_TimestampTieKeepsIngestionOrder(t *testing.T) {
	// Two records at the same instant: ingestion order is the
	// tie-break, so A then W at t0 followed by A at t0+5s is two flips.
	records := []models.UpdateRecord{
		flapRecord("10.0.0.0/24", 6939, 0, true),
		flapRecord("10.0.0.0/24", 6939, 0, false),
		flapRecord("10.0.0.0/24", 6939, 5*time.Second, true),
	}

	d := NewFlapDetector(FlapConfig{Threshold: 60 * time.Second, MinTransitions: 2})
	events := d.Detect(records)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].FlapCount != 2 {
		t.Errorf("Expected flap_count=2 with stable ordering, got %d", events[0].FlapCount)
	}
}

func TestFlapProfile(t *testing.T) {
	def := FlapProfile("default")
	if def.Threshold != 60*time.Second || def.MinTransitions != 2 {
		t.Errorf("Unexpected default profile: %+v", def)
	}
	strict := FlapProfile("strict")
	if strict.Threshold != 10*time.Second || strict.MinTransitions != 5 {
		t.Errorf("Unexpected strict profile: %+v", strict)
	}
	if got := FlapProfile("unknown"); got != def {
		t.Errorf("Unknown profile should fall back to default, got %+v", got)
	}
}
