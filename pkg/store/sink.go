package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
)

const (
	sinkMaxAttempts    = 3
	sinkInitialBackoff = time.Second
)

// LostBatch records a batch that could not be persisted after all
// retry attempts. The run report surfaces these so a re-run of the
// affected window can recover the events.
type LostBatch struct {
	Table string
	Count int
	Err   error
}

// EventSink persists anomaly events in batches. Inserts are idempotent
// via ON CONFLICT DO NOTHING on each table's composite key, so
// re-processing a window never duplicates events. Transient failures
// are retried with backoff; exhausted batches are recorded and skipped
// rather than halting the run.
type EventSink struct {
	store *Store

	mu            sync.Mutex
	eventsWritten uint64
	lostBatches   []LostBatch
}

// NewEventSink creates an event sink over an open store.
func NewEventSink(s *Store) *EventSink {
	return &EventSink{store: s}
}

// WriteFlapEvents persists a batch of flap results.
func (k *EventSink) WriteFlapEvents(ctx context.Context, events []models.FlapEvent) error {
	if len(events) == 0 {
		return nil
	}
	return k.writeWithRetry(ctx, "flap_analysis_results", len(events), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO flap_analysis_results
			(time, prefix, peer_as, total_events, flap_count, first_update, last_update, summary, analyzed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (time, prefix, peer_as) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx, ev.Time, ev.Prefix, int64(ev.PeerASN),
				ev.TotalEvents, ev.FlapCount, ev.FirstUpdate, ev.LastUpdate,
				ev.Summary, ev.AnalyzedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteLoopEvents persists a batch of loop results.
func (k *EventSink) WriteLoopEvents(ctx context.Context, events []models.LoopEvent) error {
	if len(events) == 0 {
		return nil
	}
	return k.writeWithRetry(ctx, "loop_analysis_results", len(events), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO loop_analysis_results
			(time, prefix, peer_as, repeat_as, first_idx, second_idx, as_path, path_len, summary, analyzed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (time, prefix, peer_as, repeat_as, first_idx, second_idx) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx, ev.Time, ev.Prefix, int64(ev.PeerASN),
				int64(ev.RepeatASN), ev.FirstIdx, ev.SecondIdx, asPathArray(ev.ASPath),
				ev.PathLen, ev.Summary, ev.AnalyzedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteHijackEvents persists a batch of MOAS/origin/subprefix results
// into the unified hijack_events table. Variant-specific zero values
// become NULL columns.
func (k *EventSink) WriteHijackEvents(ctx context.Context, events []models.HijackEvent) error {
	if len(events) == 0 {
		return nil
	}
	return k.writeWithRetry(ctx, "hijack_events", len(events), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO hijack_events
			(time, prefix, event_type,
			 origin_asns, distinct_peers, total_events,
			 first_update, last_update,
			 baseline_origin, top_origin, top_ratio,
			 parent_prefix, more_specific,
			 evidence_json, summary, analyzed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (time, prefix, event_type, COALESCE(parent_prefix, '')) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx, ev.Time, ev.Prefix, ev.EventType,
				asPathArray(ev.OriginASNs), ev.DistinctPeers, ev.TotalEvents,
				ev.FirstUpdate, ev.LastUpdate,
				nullASN(ev.BaselineOrigin), nullASN(ev.TopOrigin), nullRatio(ev.TopRatio),
				nullString(ev.ParentPrefix), nullString(ev.MoreSpecific),
				ev.EvidenceJSON, ev.Summary, ev.AnalyzedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// LostBatches returns the batches dropped after retry exhaustion.
func (k *EventSink) LostBatches() []LostBatch {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]LostBatch, len(k.lostBatches))
	copy(out, k.lostBatches)
	return out
}

// EventsWritten returns the number of events handed to the database.
func (k *EventSink) EventsWritten() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.eventsWritten
}

func (k *EventSink) writeWithRetry(ctx context.Context, table string, count int, fn func(*sql.Tx) error) error {
	backoff := sinkInitialBackoff
	var lastErr error
retry:
	for attempt := 1; attempt <= sinkMaxAttempts; attempt++ {
		lastErr = k.writeBatch(fn)
		if lastErr == nil {
			k.mu.Lock()
			k.eventsWritten += uint64(count)
			k.mu.Unlock()
			return nil
		}
		log.Printf("Write to %s failed (attempt %d/%d): %v", table, attempt, sinkMaxAttempts, lastErr)
		if attempt == sinkMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = fmt.Errorf("%w (after: %v)", ctx.Err(), lastErr)
			break retry
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	k.mu.Lock()
	k.lostBatches = append(k.lostBatches, LostBatch{Table: table, Count: count, Err: lastErr})
	k.mu.Unlock()
	return fmt.Errorf("write %d events to %s: %w", count, table, lastErr)
}

func (k *EventSink) writeBatch(fn func(*sql.Tx) error) error {
	tx, err := k.store.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func asPathArray(path []uint32) pq.Int64Array {
	out := make(pq.Int64Array, len(path))
	for i, asn := range path {
		out[i] = int64(asn)
	}
	return out
}

func nullASN(asn uint32) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(asn), Valid: asn != 0}
}

func nullRatio(ratio float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: ratio, Valid: ratio != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
