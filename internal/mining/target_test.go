package mining

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestDifficultyToTarget(t *testing.T) {
	tests := []struct {
		name       string
		difficulty float64
		wantPrefix string
	}{
		{"difficulty one", 1.0, "00000000ffff0000"},
		{"difficulty two", 2.0, "000000007fff8000"},
		{"zero falls back to max", 0, "00000000ffff0000"},
		{"negative falls back to max", -5, "00000000ffff0000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := DifficultyToTarget(tt.difficulty)
			if len(target) != 32 {
				t.Fatalf("target length = %d, want 32", len(target))
			}
			got := hex.EncodeToString(target[:8])
			if got != tt.wantPrefix {
				t.Errorf("target prefix = %s, want %s", got, tt.wantPrefix)
			}
		})
	}
}

func TestDifficultyToTargetMonotonic(t *testing.T) {
	low := DifficultyToTarget(1.0)
	high := DifficultyToTarget(1000.0)
	if bytes.Compare(high, low) >= 0 {
		t.Error("higher difficulty should produce a lower target")
	}
}

func TestHashMeetsTarget(t *testing.T) {
	target := DifficultyToTarget(1.0)

	var low chainhash.Hash // all zero, trivially meets any target
	if !HashMeetsTarget(low, target) {
		t.Error("zero hash should meet difficulty-1 target")
	}

	var high chainhash.Hash
	for i := range high {
		high[i] = 0xff
	}
	if HashMeetsTarget(high, target) {
		t.Error("max hash should not meet difficulty-1 target")
	}
}

func TestHashMeetsTargetBoundary(t *testing.T) {
	target := DifficultyToTarget(1.0)

	// Build a hash exactly equal to the target. chainhash is little-endian,
	// the target is big-endian.
	var equal chainhash.Hash
	for i := 0; i < 32; i++ {
		equal[31-i] = target[i]
	}
	if !HashMeetsTarget(equal, target) {
		t.Error("hash equal to target should be accepted")
	}
}

func TestParseNetworkTarget(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"full 32 bytes", "00000000ffff0000000000000000000000000000000000000000000000000000", false},
		{"short target is padded", "ffff", false},
		{"empty", "", true},
		{"odd length", "fff", true},
		{"too long", "00000000ffff000000000000000000000000000000000000000000000000000000", true},
		{"non-hex", "zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := ParseNetworkTarget(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNetworkTarget() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(target) != 32 {
				t.Errorf("target length = %d, want 32", len(target))
			}
		})
	}
}
