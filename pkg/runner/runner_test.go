package runner

import (
	"errors"
	"testing"

	"github.com/jinhyogyeom/bgp-watch/pkg/store"
)

func TestEnabledSet(t *testing.T) {
	all := enabledSet(nil)
	if len(all) != len(AllDetectors) {
		t.Errorf("Empty selection must enable all detectors, got %d", len(all))
	}
	for _, name := range AllDetectors {
		if !all[name] {
			t.Errorf("Detector %s missing from default set", name)
		}
	}

	some := enabledSet([]string{DetectorFlap, DetectorMOAS})
	if len(some) != 2 || !some[DetectorFlap] || !some[DetectorMOAS] {
		t.Errorf("Unexpected set for explicit selection: %v", some)
	}
}

func TestKnownDetector(t *testing.T) {
	for _, name := range AllDetectors {
		if !knownDetector(name) {
			t.Errorf("Detector %s should be known", name)
		}
	}
	if knownDetector("blackhole") {
		t.Error("Unknown detector name accepted")
	}
}

func TestReportFailed(t *testing.T) {
	clean := &Report{Detectors: map[string]*DetectorReport{
		DetectorFlap: {Events: 3},
	}}
	if clean.Failed() {
		t.Error("Report without failures must not be marked failed")
	}

	failedChunk := &Report{Detectors: map[string]*DetectorReport{
		DetectorFlap: {FailedChunks: 1, LastErr: errors.New("boom")},
	}}
	if !failedChunk.Failed() {
		t.Error("Failed chunk must mark the report failed")
	}

	lost := &Report{
		Detectors:   map[string]*DetectorReport{},
		LostBatches: []store.LostBatch{{Table: "flap_analysis_results", Count: 10}},
	}
	if !lost.Failed() {
		t.Error("Lost batch must mark the report failed")
	}
}

func TestSortedNames(t *testing.T) {
	set := enabledSet([]string{DetectorSubprefix, DetectorFlap})
	names := sortedNames(set)
	if len(names) != 2 || names[0] != DetectorFlap || names[1] != DetectorSubprefix {
		t.Errorf("Expected canonical order [flap subprefix], got %v", names)
	}
}
