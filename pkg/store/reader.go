package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
	"github.com/jinhyogyeom/bgp-watch/pkg/window"
)

// pgUndefinedTable is the SQLSTATE for a missing relation. Update data
// is partitioned by UTC day and absence of a day's table is expected.
const pgUndefinedTable = "42P01"

// LoadUpdates returns the normalized, timestamp-ordered update records
// inside the window, exploded to one record per (row, prefix,
// announce|withdraw). announcesOnly skips withdrawal explosion, which
// the hijack-family detectors never consume. A missing day partition
// contributes an empty sub-sequence, not an error.
func (s *Store) LoadUpdates(ctx context.Context, win window.TimeWindow, announcesOnly bool) ([]models.UpdateRecord, error) {
	var records []models.UpdateRecord
	// Partitions are disjoint, ascending days and each partition query
	// is timestamp-ordered, so appending in day order keeps the whole
	// sequence ordered.
	for _, day := range win.Days() {
		dayRecords, err := s.loadPartition(ctx, window.PartitionTable(day), win, announcesOnly)
		if err != nil {
			return nil, err
		}
		records = append(records, dayRecords...)
	}
	return records, nil
}

func (s *Store) loadPartition(ctx context.Context, table string, win window.TimeWindow, announcesOnly bool) ([]models.UpdateRecord, error) {
	// Table names come from the pure partition function, never from
	// input; all values are bound parameters.
	query := fmt.Sprintf(`
		SELECT timestamp, peer_as, as_path, announce_prefixes, withdraw_prefixes
		FROM %s
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp ASC, entry_id ASC
	`, pq.QuoteIdentifier(table))

	rows, err := s.db.QueryContext(ctx, query, win.Start, win.End)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUndefinedTable {
			return nil, nil
		}
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var records []models.UpdateRecord
	for rows.Next() {
		var (
			ts        time.Time
			peerAS    sql.NullInt64
			asPath    []sql.NullInt64
			announces pq.StringArray
			withdraws pq.StringArray
		)
		if err := rows.Scan(&ts, &peerAS, pq.Array(&asPath), &announces, &withdraws); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}

		path := cleanASPath(asPath)
		peer := uint32(peerAS.Int64)

		for _, prefix := range announces {
			if prefix == "" {
				continue
			}
			records = append(records, models.UpdateRecord{
				Timestamp: ts,
				PeerASN:   peer,
				ASPath:    path,
				Prefix:    prefix,
				Announce:  true,
			})
		}
		if announcesOnly {
			continue
		}
		for _, prefix := range withdraws {
			if prefix == "" {
				continue
			}
			records = append(records, models.UpdateRecord{
				Timestamp: ts,
				PeerASN:   peer,
				ASPath:    path,
				Prefix:    normalizeWithdrawPrefix(prefix),
				Announce:  false,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return records, nil
}

// cleanASPath drops null and out-of-range path elements instead of
// rejecting the record.
func cleanASPath(raw []sql.NullInt64) []uint32 {
	if len(raw) == 0 {
		return nil
	}
	path := make([]uint32, 0, len(raw))
	for _, elem := range raw {
		if !elem.Valid || elem.Int64 < 0 || elem.Int64 > int64(^uint32(0)) {
			continue
		}
		path = append(path, uint32(elem.Int64))
	}
	if len(path) == 0 {
		return nil
	}
	return path
}

// normalizeWithdrawPrefix appends /24 to withdrawn prefixes recorded
// without a mask length.
func normalizeWithdrawPrefix(prefix string) string {
	if strings.Contains(prefix, "/") {
		return prefix
	}
	return prefix + "/24"
}
