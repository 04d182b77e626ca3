package mining

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func testHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func TestMerkleRoot(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		root := MerkleRoot(nil)
		if root != (chainhash.Hash{}) {
			t.Error("empty list should produce zero root")
		}
	})

	t.Run("single transaction", func(t *testing.T) {
		h := testHash(0xab)
		if MerkleRoot([]chainhash.Hash{h}) != h {
			t.Error("single transaction root should equal its own hash")
		}
	})

	t.Run("odd count duplicates last", func(t *testing.T) {
		a, b, c := testHash(1), testHash(2), testHash(3)
		odd := MerkleRoot([]chainhash.Hash{a, b, c})
		padded := MerkleRoot([]chainhash.Hash{a, b, c, c})
		if odd != padded {
			t.Error("odd list should hash as if last entry were duplicated")
		}
	})
}

func TestMerkleBranchRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		txCount int
	}{
		{"two transactions", 2},
		{"three transactions", 3},
		{"four transactions", 4},
		{"seven transactions", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashes := make([]chainhash.Hash, tt.txCount)
			for i := range hashes {
				hashes[i] = testHash(byte(i + 1))
			}

			root := MerkleRoot(hashes)
			branch := MerkleBranch(hashes)
			folded := RootFromBranch(hashes[0], branch)

			if folded != root {
				t.Errorf("branch fold produced %s, want %s", folded, root)
			}
		})
	}
}

func TestMerkleBranchSingleTx(t *testing.T) {
	branch := MerkleBranch([]chainhash.Hash{testHash(9)})
	if len(branch) != 0 {
		t.Errorf("branch for coinbase-only block should be empty, got %d entries", len(branch))
	}
}
