package store

import (
	"database/sql"
	"testing"
)

func TestCleanASPath(t *testing.T) {
	valid := func(v int64) sql.NullInt64 { return sql.NullInt64{Int64: v, Valid: true} }

	tests := []struct {
		name     string
		input    []sql.NullInt64
		expected []uint32
	}{
		{"empty", nil, nil},
		{"clean path", []sql.NullInt64{valid(6939), valid(3356), valid(13335)}, []uint32{6939, 3356, 13335}},
		{"null element dropped", []sql.NullInt64{valid(6939), {}, valid(13335)}, []uint32{6939, 13335}},
		{"negative dropped", []sql.NullInt64{valid(-1), valid(13335)}, []uint32{13335}},
		{"overflow dropped", []sql.NullInt64{valid(1 << 40), valid(13335)}, []uint32{13335}},
		{"all invalid", []sql.NullInt64{{}, valid(-5)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cleanASPath(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, got)
			}
			for i, asn := range tt.expected {
				if got[i] != asn {
					t.Errorf("Element %d: expected %d, got %d", i, asn, got[i])
				}
			}
		})
	}
}

func TestNormalizeWithdrawPrefix(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"192.0.2.0/24", "192.0.2.0/24"},
		{"10.0.0.0/8", "10.0.0.0/8"},
		{"192.0.2.0", "192.0.2.0/24"},
		{"2001:db8::/32", "2001:db8::/32"},
	}

	for _, tt := range tests {
		if got := normalizeWithdrawPrefix(tt.input); got != tt.expected {
			t.Errorf("normalizeWithdrawPrefix(%q): expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}
