// Package runner orchestrates a bounded historical detection run:
// baseline construction, chunked loading, the concurrent detector set,
// and idempotent persistence of the resulting anomaly events.
package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jinhyogyeom/bgp-watch/pkg/detector"
	"github.com/jinhyogyeom/bgp-watch/pkg/models"
	"github.com/jinhyogyeom/bgp-watch/pkg/store"
	"github.com/jinhyogyeom/bgp-watch/pkg/window"
)

// DefaultChunkSize bounds how much of the window is held in memory at
// once. Each chunk is loaded, detected, persisted, and discarded
// before the next begins.
const DefaultChunkSize = 6 * time.Hour

// Detector names accepted by Config.Detectors.
const (
	DetectorFlap      = "flap"
	DetectorLoop      = "loop"
	DetectorMOAS      = "moas"
	DetectorOrigin    = "origin"
	DetectorSubprefix = "subprefix"
)

// AllDetectors lists every detector in its canonical run order.
var AllDetectors = []string{DetectorFlap, DetectorLoop, DetectorMOAS, DetectorOrigin, DetectorSubprefix}

// Config describes one detection run.
type Config struct {
	Window    window.TimeWindow
	ChunkSize time.Duration
	// Detectors to run; empty means all.
	Detectors []string

	Flap      detector.FlapConfig
	Moas      detector.MoasConfig
	Origin    detector.OriginConfig
	Subprefix detector.SubprefixConfig
	Lookback  time.Duration
}

// DetectorReport summarizes one detector's outcome for the run.
type DetectorReport struct {
	Events       int
	FailedChunks int
	LastErr      error
}

// Report is the user-visible outcome of a run. RecordsLoaded
// distinguishes "no data for the requested slice" from "ran and found
// nothing anomalous".
type Report struct {
	RunID           string
	Window          window.TimeWindow
	ChunksProcessed int
	EmptyChunks     int
	RecordsLoaded   int
	Detectors       map[string]*DetectorReport
	LostBatches     []store.LostBatch
	Canceled        bool
}

// Failed reports whether any detector lost a chunk or a batch.
func (r *Report) Failed() bool {
	if len(r.LostBatches) > 0 {
		return true
	}
	for _, d := range r.Detectors {
		if d.FailedChunks > 0 {
			return true
		}
	}
	return false
}

// Runner executes detection runs against an open store.
type Runner struct {
	store *store.Store
	sink  *store.EventSink
	redis *redis.Client
}

// New creates a runner. redisClient may be nil; it only backs the
// cross-run baseline cache.
func New(s *store.Store, sink *store.EventSink, redisClient *redis.Client) *Runner {
	return &Runner{store: s, sink: sink, redis: redisClient}
}

// Run executes the configured detectors over the window, chunk by
// chunk. Detectors within a chunk run concurrently; they are read-only
// over the shared record slice. Cancellation is cooperative: no new
// chunk starts after ctx is done, but the chunk in progress completes
// and persists.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Report, error) {
	enabled := enabledSet(cfg.Detectors)
	for name := range enabled {
		if !knownDetector(name) {
			return nil, fmt.Errorf("unknown detector %q", name)
		}
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Window:    cfg.Window,
		Detectors: make(map[string]*DetectorReport),
	}
	for name := range enabled {
		report.Detectors[name] = &DetectorReport{}
	}

	log.Printf("[run %s] window %s ~ %s, detectors %v", report.RunID,
		cfg.Window.Start.Format(time.RFC3339), cfg.Window.End.Format(time.RFC3339), sortedNames(enabled))

	// The baseline must exist before any chunk's origin detection; a
	// one-time ordering dependency, not a per-chunk one.
	var originDet *detector.OriginDetector
	if enabled[DetectorOrigin] {
		builder := detector.NewBaselineBuilder(r.redis)
		baseline, err := r.buildBaseline(ctx, builder, cfg)
		if err != nil {
			return nil, fmt.Errorf("build baseline: %w", err)
		}
		log.Printf("[run %s] baseline covers %d prefixes", report.RunID, len(baseline))
		originDet = detector.NewOriginDetector(cfg.Origin, baseline, builder)
	}

	needWithdraws := enabled[DetectorFlap]

	for _, chunk := range cfg.Window.Chunks(chunkSize) {
		select {
		case <-ctx.Done():
			report.Canceled = true
			log.Printf("[run %s] canceled after %d chunks", report.RunID, report.ChunksProcessed)
			report.LostBatches = r.sink.LostBatches()
			return report, nil
		default:
		}

		records, err := r.store.LoadUpdates(ctx, chunk, !needWithdraws)
		if err != nil {
			// A failed load loses the chunk for every detector.
			log.Printf("[run %s] load chunk %s ~ %s failed: %v", report.RunID,
				chunk.Start.Format(time.RFC3339), chunk.End.Format(time.RFC3339), err)
			for _, d := range report.Detectors {
				d.FailedChunks++
				d.LastErr = err
			}
			continue
		}
		report.ChunksProcessed++
		report.RecordsLoaded += len(records)
		if len(records) == 0 {
			report.EmptyChunks++
			continue
		}

		r.detectChunk(ctx, chunk, records, enabled, originDet, cfg, report)
	}

	report.LostBatches = r.sink.LostBatches()
	r.logReport(report)
	return report, nil
}

// detectChunk runs the enabled detectors concurrently over one chunk's
// records and persists their events. A failure in one detector does
// not block the others.
func (r *Runner) detectChunk(ctx context.Context, chunk window.TimeWindow, records []models.UpdateRecord,
	enabled map[string]bool, originDet *detector.OriginDetector, cfg Config, report *Report) {

	var mu sync.Mutex
	record := func(name string, events int, err error) {
		mu.Lock()
		defer mu.Unlock()
		d := report.Detectors[name]
		d.Events += events
		if err != nil {
			d.FailedChunks++
			d.LastErr = err
		}
	}

	var wg sync.WaitGroup
	run := func(name string, fn func() (int, error)) {
		if !enabled[name] {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			events, err := fn()
			record(name, events, err)
		}()
	}

	run(DetectorFlap, func() (int, error) {
		events := detector.NewFlapDetector(cfg.Flap).Detect(records)
		return len(events), r.sink.WriteFlapEvents(ctx, events)
	})
	run(DetectorLoop, func() (int, error) {
		events := detector.NewLoopDetector().Detect(records)
		return len(events), r.sink.WriteLoopEvents(ctx, events)
	})
	run(DetectorMOAS, func() (int, error) {
		events := detector.NewMoasDetector(cfg.Moas).Detect(records)
		return len(events), r.sink.WriteHijackEvents(ctx, events)
	})
	run(DetectorOrigin, func() (int, error) {
		events := originDet.Detect(records)
		return len(events), r.sink.WriteHijackEvents(ctx, events)
	})
	run(DetectorSubprefix, func() (int, error) {
		events := detector.NewSubprefixDetector(cfg.Subprefix).Detect(records)
		return len(events), r.sink.WriteHijackEvents(ctx, events)
	})

	wg.Wait()
}

// buildBaseline feeds the lookback window to the builder one UTC day
// at a time so peak memory stays bounded by a day's announcements.
func (r *Runner) buildBaseline(ctx context.Context, builder *detector.BaselineBuilder, cfg Config) (detector.Baseline, error) {
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = detector.DefaultBaselineLookback
	}
	lookbackWin := window.TimeWindow{Start: cfg.Window.Start.Add(-lookback), End: cfg.Window.Start}

	for _, day := range lookbackWin.Days() {
		dayWin := window.TimeWindow{Start: day, End: day.Add(24 * time.Hour)}
		if dayWin.Start.Before(lookbackWin.Start) {
			dayWin.Start = lookbackWin.Start
		}
		if dayWin.End.After(lookbackWin.End) {
			dayWin.End = lookbackWin.End
		}
		records, err := r.store.LoadUpdates(ctx, dayWin, true)
		if err != nil {
			return nil, err
		}
		builder.Observe(records)
	}
	return builder.Finalize(), nil
}

func (r *Runner) logReport(report *Report) {
	for _, name := range AllDetectors {
		d, ok := report.Detectors[name]
		if !ok {
			continue
		}
		log.Printf("[run %s] %s: events=%d, failed_chunks=%d", report.RunID, name, d.Events, d.FailedChunks)
	}
	log.Printf("[run %s] chunks=%d (empty=%d), records=%d, lost_batches=%d",
		report.RunID, report.ChunksProcessed, report.EmptyChunks, report.RecordsLoaded, len(report.LostBatches))
}

func enabledSet(names []string) map[string]bool {
	set := make(map[string]bool)
	if len(names) == 0 {
		names = AllDetectors
	}
	for _, n := range names {
		set[n] = true
	}
	return set
}

func knownDetector(name string) bool {
	for _, n := range AllDetectors {
		if n == name {
			return true
		}
	}
	return false
}

func sortedNames(set map[string]bool) []string {
	var out []string
	for _, n := range AllDetectors {
		if set[n] {
			out = append(out, n)
		}
	}
	return out
}
