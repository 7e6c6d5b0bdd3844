// Package window provides time-window chunking and UTC-day partition
// routing for bounded-memory batch analysis.
package window

import (
	"fmt"
	"time"
)

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// New validates and returns a window. End must be strictly after Start.
func New(start, end time.Time) (TimeWindow, error) {
	if !end.After(start) {
		return TimeWindow{}, fmt.Errorf("invalid time window: end %s is not after start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return TimeWindow{Start: start, End: end}, nil
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls inside the half-open interval.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Chunks splits the window into contiguous sub-windows of at most size,
// covering [Start, End) exactly once with no gaps or overlaps. The last
// chunk is clipped to End.
func (w TimeWindow) Chunks(size time.Duration) []TimeWindow {
	if size <= 0 {
		return []TimeWindow{w}
	}
	var chunks []TimeWindow
	for cur := w.Start; cur.Before(w.End); {
		chunkEnd := cur.Add(size)
		if chunkEnd.After(w.End) {
			chunkEnd = w.End
		}
		chunks = append(chunks, TimeWindow{Start: cur, End: chunkEnd})
		cur = chunkEnd
	}
	return chunks
}

// Days returns the UTC calendar days intersecting the window, in order.
// Historical update data is partitioned by UTC date, so these are the
// partitions a query for this window must touch.
func (w TimeWindow) Days() []time.Time {
	var days []time.Time
	d := w.Start.UTC().Truncate(24 * time.Hour)
	// End is exclusive: a window ending exactly at midnight does not
	// touch the next day's partition.
	last := w.End.UTC().Add(-time.Nanosecond).Truncate(24 * time.Hour)
	for !d.After(last) {
		days = append(days, d)
		d = d.Add(24 * time.Hour)
	}
	return days
}

// BucketStart floors t to the start of its fixed-size, epoch-aligned
// bucket. Used to group records before per-bucket analysis.
func BucketStart(t time.Time, size time.Duration) time.Time {
	if size <= 0 {
		return t
	}
	return t.UTC().Truncate(size)
}

// PartitionTable maps a UTC day to the name of its update table.
func PartitionTable(day time.Time) string {
	return "update_entries_" + day.UTC().Format("20060102")
}
