package store

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
	"github.com/jinhyogyeom/bgp-watch/pkg/window"
)

const (
	ingestBatchSize     = 1000
	ingestFlushInterval = 5 * time.Second
	ingestQueueSize     = 100000
)

// UpdateWriter persists live update records into UTC-day-partitioned
// tables. Records flow through a bounded queue to a single writer
// goroutine that batches on size-or-time triggers; the partition for
// each record follows from its timestamp, so day rollover needs no
// shared state. Stop drains and flushes everything still queued.
type UpdateWriter struct {
	store *Store
	queue chan models.UpdateRecord
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool

	// Tables already created this process. Only the writer goroutine
	// touches this map.
	created map[string]bool

	// Counters are read by Stats from other goroutines.
	updatesWritten atomic.Uint64
	updatesDropped atomic.Uint64
	batchesWritten atomic.Uint64
}

// NewUpdateWriter creates an update writer over an open store.
func NewUpdateWriter(s *Store) *UpdateWriter {
	return &UpdateWriter{
		store:   s,
		queue:   make(chan models.UpdateRecord, ingestQueueSize),
		done:    make(chan struct{}),
		created: make(map[string]bool),
	}
}

// Start begins the background writer goroutine.
func (w *UpdateWriter) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.writerLoop()
	log.Printf("Update writer started")
}

// Stop shuts the writer down, flushing all buffered records first.
func (w *UpdateWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	log.Printf("Update writer stopped (written=%d, dropped=%d, batches=%d)",
		w.updatesWritten.Load(), w.updatesDropped.Load(), w.batchesWritten.Load())
}

// Write queues a record for batch persistence. Records are dropped
// when the queue is full rather than blocking the stream reader.
func (w *UpdateWriter) Write(rec models.UpdateRecord) {
	select {
	case w.queue <- rec:
	default:
		if dropped := w.updatesDropped.Add(1); dropped%10000 == 0 {
			log.Printf("Update queue full, dropped %d records", dropped)
		}
	}
}

// Stats returns writer statistics.
func (w *UpdateWriter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"updates_written": w.updatesWritten.Load(),
		"updates_dropped": w.updatesDropped.Load(),
		"batches_written": w.batchesWritten.Load(),
		"queue_len":       len(w.queue),
		"queue_cap":       cap(w.queue),
	}
}

func (w *UpdateWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]models.UpdateRecord, 0, ingestBatchSize)
	ticker := time.NewTicker(ingestFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-w.queue:
			batch = append(batch, rec)
			if len(batch) >= ingestBatchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.done:
			close(w.queue)
			for rec := range w.queue {
				batch = append(batch, rec)
				if len(batch) >= ingestBatchSize {
					w.writeBatch(batch)
					batch = batch[:0]
				}
			}
			if len(batch) > 0 {
				w.writeBatch(batch)
			}
			return
		}
	}
}

func (w *UpdateWriter) writeBatch(batch []models.UpdateRecord) {
	// Group by target partition; a batch spanning midnight writes into
	// both days' tables.
	byTable := make(map[string][]models.UpdateRecord)
	for _, rec := range batch {
		table := window.PartitionTable(rec.Timestamp)
		byTable[table] = append(byTable[table], rec)
	}

	for table, recs := range byTable {
		if err := w.ensurePartition(table); err != nil {
			log.Printf("Failed to ensure partition %s: %v", table, err)
			continue
		}
		if err := w.insertBatch(table, recs); err != nil {
			log.Printf("Failed to write batch to %s: %v", table, err)
			continue
		}
		w.updatesWritten.Add(uint64(len(recs)))
		w.batchesWritten.Add(1)
	}
}

func (w *UpdateWriter) ensurePartition(table string) error {
	if w.created[table] {
		return nil
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			entry_id          SERIAL PRIMARY KEY,
			timestamp         TIMESTAMPTZ,
			peer_as           BIGINT,
			local_as          TEXT,
			announce_prefixes TEXT[],
			withdraw_prefixes TEXT[],
			as_path           BIGINT[]
		)
	`, pq.QuoteIdentifier(table))
	if _, err := w.store.db.Exec(ddl); err != nil {
		return err
	}
	w.created[table] = true
	return nil
}

func (w *UpdateWriter) insertBatch(table string, recs []models.UpdateRecord) error {
	tx, err := w.store.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (timestamp, peer_as, local_as, announce_prefixes, withdraw_prefixes, as_path)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pq.QuoteIdentifier(table))

	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		var announces, withdraws pq.StringArray
		if rec.Announce {
			announces = pq.StringArray{rec.Prefix}
		} else {
			withdraws = pq.StringArray{rec.Prefix}
		}
		path := make(pq.Int64Array, len(rec.ASPath))
		for i, asn := range rec.ASPath {
			path[i] = int64(asn)
		}
		if _, err := stmt.Exec(rec.Timestamp, int64(rec.PeerASN), rec.Collector, announces, withdraws, path); err != nil {
			return err
		}
	}
	return tx.Commit()
}
