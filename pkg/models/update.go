// Package models defines data structures for BGP updates and anomaly events.
package models

import "time"

// UpdateRecord is a single normalized BGP update observation: one record
// per (original update, exploded prefix). A raw UPDATE carrying multiple
// prefixes becomes multiple UpdateRecords.
type UpdateRecord struct {
	Timestamp time.Time
	PeerASN   uint32
	ASPath    []uint32 // route-propagation order, last element = origin
	Prefix    string
	Announce  bool   // true=announcement, false=withdrawal
	Collector string // e.g., "rrc00", empty for historical data
}

// Origin returns the apparent origin AS (last element of the AS path),
// or 0 if the path is empty.
func (u UpdateRecord) Origin() uint32 {
	if len(u.ASPath) == 0 {
		return 0
	}
	return u.ASPath[len(u.ASPath)-1]
}

// Event types for the unified hijack_events table.
const (
	EventTypeMOAS      = "MOAS"
	EventTypeOrigin    = "ORIGIN"
	EventTypeSubprefix = "SUBPREFIX"
)
