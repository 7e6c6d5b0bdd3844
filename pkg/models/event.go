package models

import "time"

// FlapEvent reports rapid announce/withdraw oscillation for one
// (prefix, peer) group. Persisted to flap_analysis_results, keyed by
// (time, prefix, peer_as).
type FlapEvent struct {
	Time        time.Time
	Prefix      string
	PeerASN     uint32
	TotalEvents int
	FlapCount   int
	FirstUpdate time.Time
	LastUpdate  time.Time
	Summary     string
	AnalyzedAt  time.Time
}

// LoopEvent reports a non-consecutive ASN repetition in a single
// announcement's AS path. Persisted to loop_analysis_results, keyed by
// (time, prefix, peer_as, repeat_as, first_idx, second_idx).
type LoopEvent struct {
	Time       time.Time
	Prefix     string
	PeerASN    uint32
	RepeatASN  uint32
	FirstIdx   int
	SecondIdx  int
	ASPath     []uint32 // full path kept for reproducibility
	PathLen    int
	Summary    string
	AnalyzedAt time.Time
}

// HijackEvent is the unified shape for MOAS, origin-hijack, and
// subprefix-hijack detections. Variant-specific fields are left at
// their zero value (NULL in storage) for the variants that do not use
// them. Persisted to hijack_events, keyed by
// (time, prefix, event_type, parent_prefix).
type HijackEvent struct {
	Time          time.Time
	Prefix        string
	EventType     string // MOAS | ORIGIN | SUBPREFIX
	OriginASNs    []uint32
	DistinctPeers int
	TotalEvents   int
	FirstUpdate   time.Time
	LastUpdate    time.Time

	// ORIGIN only. BaselineOrigin 0 means "no baseline".
	BaselineOrigin uint32
	TopOrigin      uint32
	TopRatio       float64

	// SUBPREFIX only.
	ParentPrefix string
	MoreSpecific string

	EvidenceJSON string
	Summary      string
	AnalyzedAt   time.Time
}
