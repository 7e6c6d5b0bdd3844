package detector

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
)

// LoopDetector finds AS-path loops: the same ASN appearing twice with
// at least one other ASN strictly between the occurrences. Consecutive
// repetition is AS prepending and is not a loop.
type LoopDetector struct{}

// NewLoopDetector creates a loop detector.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{}
}

// pathRepeat is a non-consecutive ASN repetition found in an AS path.
type pathRepeat struct {
	asn       uint32
	firstIdx  int
	secondIdx int
}

// findRepeat scans the path left to right tracking the last index each
// ASN was seen at, and returns the first repeat whose occurrences are
// not adjacent. Paths shorter than 3 can only contain prepending.
func findRepeat(asPath []uint32) (pathRepeat, bool) {
	if len(asPath) < 3 {
		return pathRepeat{}, false
	}
	lastPos := make(map[uint32]int, len(asPath))
	for idx, asn := range asPath {
		if prev, seen := lastPos[asn]; seen && idx-prev > 1 {
			return pathRepeat{asn: asn, firstIdx: prev, secondIdx: idx}, true
		}
		lastPos[asn] = idx
	}
	return pathRepeat{}, false
}

// Check inspects a single record and returns a LoopEvent if its AS path
// contains a loop. Only announcements carry a path; withdrawals never
// match. Only the first qualifying repeat per record is reported.
func (d *LoopDetector) Check(rec models.UpdateRecord) (models.LoopEvent, bool) {
	if !rec.Announce {
		return models.LoopEvent{}, false
	}
	rep, ok := findRepeat(rec.ASPath)
	if !ok {
		return models.LoopEvent{}, false
	}

	path := make([]uint32, len(rec.ASPath))
	copy(path, rec.ASPath)

	return models.LoopEvent{
		Time:       rec.Timestamp,
		Prefix:     rec.Prefix,
		PeerASN:    rec.PeerASN,
		RepeatASN:  rep.asn,
		FirstIdx:   rep.firstIdx,
		SecondIdx:  rep.secondIdx,
		ASPath:     path,
		PathLen:    len(path),
		Summary:    loopSummary(rec, rep),
		AnalyzedAt: time.Now().UTC(),
	}, true
}

// Detect runs Check over every record. Loop detection is per-record
// and needs no window state.
func (d *LoopDetector) Detect(records []models.UpdateRecord) []models.LoopEvent {
	var events []models.LoopEvent
	for _, rec := range records {
		if ev, ok := d.Check(rec); ok {
			events = append(events, ev)
		}
	}
	return events
}

func loopSummary(rec models.UpdateRecord, rep pathRepeat) string {
	parts := make([]string, len(rec.ASPath))
	for i, asn := range rec.ASPath {
		parts[i] = fmt.Sprintf("%d", asn)
	}
	return fmt.Sprintf(
		"[%s] BGP loop for %s | peer_as=%d | repeat_as=%d (pos %d→%d) | as_path=[%s]",
		rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Prefix, rec.PeerASN,
		rep.asn, rep.firstIdx, rep.secondIdx, strings.Join(parts, " "))
}
