package rislive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jinhyogyeom/bgp-watch/pkg/models"
)

// RISMessage is the top-level message from RIS Live.
type RISMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RISUpdateData is the BGP update data from RIS Live.
type RISUpdateData struct {
	Timestamp     float64           `json:"timestamp"`
	PeerASN       json.RawMessage   `json:"peer_asn"` // Can be string or number
	Path          json.RawMessage   `json:"path"`
	Announcements []RISAnnouncement `json:"announcements"`
	Withdrawals   []string          `json:"withdrawals"`
}

// RISAnnouncement represents announced prefixes.
type RISAnnouncement struct {
	Prefixes []string `json:"prefixes"`
}

// ParseMessage parses a RIS Live WebSocket message into normalized
// update records, one per (message, prefix, announce|withdraw) pair.
// Returns nil if the message is not a BGP update (e.g., error, rrc_list).
func ParseMessage(data []byte, collector string) ([]models.UpdateRecord, error) {
	var msg RISMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	// Only process ris_message type
	if msg.Type != "ris_message" {
		return nil, nil
	}

	var updateData RISUpdateData
	if err := json.Unmarshal(msg.Data, &updateData); err != nil {
		return nil, fmt.Errorf("unmarshal update data: %w", err)
	}

	peerASN := parseASN(updateData.PeerASN)

	asPath, err := parseASPath(updateData.Path)
	if err != nil {
		return nil, fmt.Errorf("parse AS path: %w", err)
	}

	sec := int64(updateData.Timestamp)
	timestamp := time.Unix(sec, int64((updateData.Timestamp-float64(sec))*1e9)).UTC()

	var records []models.UpdateRecord
	for _, ann := range updateData.Announcements {
		for _, prefix := range ann.Prefixes {
			if prefix == "" {
				continue
			}
			records = append(records, models.UpdateRecord{
				Timestamp: timestamp,
				PeerASN:   peerASN,
				ASPath:    asPath,
				Prefix:    prefix,
				Announce:  true,
				Collector: collector,
			})
		}
	}
	for _, prefix := range updateData.Withdrawals {
		if prefix == "" {
			continue
		}
		records = append(records, models.UpdateRecord{
			Timestamp: timestamp,
			PeerASN:   peerASN,
			Prefix:    prefix,
			Announce:  false,
			Collector: collector,
		})
	}
	return records, nil
}

// parseASN parses an ASN that can be either a string or number.
func parseASN(data json.RawMessage) uint32 {
	if len(data) == 0 {
		return 0
	}

	// Try as number first
	var num uint32
	if err := json.Unmarshal(data, &num); err == nil {
		return num
	}

	// Try as string
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, _ := strconv.ParseUint(str, 10, 32)
		return uint32(val)
	}

	return 0
}

// parseASPath flattens the AS path which may contain nested arrays (AS_SET).
// Input can be: [174, 3356, 65001] or [[174], [3356, 65001], 65002]
// Non-numeric elements are dropped from the path, not the record.
func parseASPath(data json.RawMessage) ([]uint32, error) {
	if len(data) == 0 {
		return nil, nil
	}

	// Try parsing as simple array of numbers first
	var simpleArray []uint32
	if err := json.Unmarshal(data, &simpleArray); err == nil {
		return simpleArray, nil
	}

	// Try parsing as mixed array (may contain nested arrays)
	var mixedArray []json.RawMessage
	if err := json.Unmarshal(data, &mixedArray); err != nil {
		return nil, fmt.Errorf("cannot parse path: %w", err)
	}

	var result []uint32
	for _, elem := range mixedArray {
		// Try as single number
		var num uint32
		if err := json.Unmarshal(elem, &num); err == nil {
			result = append(result, num)
			continue
		}

		// Try as array of numbers (AS_SET)
		var nums []uint32
		if err := json.Unmarshal(elem, &nums); err == nil {
			result = append(result, nums...)
			continue
		}
	}

	return result, nil
}
