package mining

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func hashPair(left, right chainhash.Hash) chainhash.Hash {
	concat := make([]byte, 0, 64)
	concat = append(concat, left[:]...)
	concat = append(concat, right[:]...)
	first := sha256.Sum256(concat)
	second := sha256.Sum256(first[:])

	var out chainhash.Hash
	copy(out[:], second[:])
	return out
}

// MerkleRoot computes the Bitcoin merkle root over a list of transaction
// hashes, duplicating the last hash at odd levels.
func MerkleRoot(txHashes []chainhash.Hash) chainhash.Hash {
	if len(txHashes) == 0 {
		return chainhash.Hash{}
	}

	level := make([]chainhash.Hash, len(txHashes))
	copy(level, txHashes)

	for len(level) > 1 {
		next := make([]chainhash.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}

	return level[0]
}

// MerkleBranch computes the authentication path for the coinbase
// transaction (index 0). Miners combine this branch with their assembled
// coinbase to reproduce the merkle root.
func MerkleBranch(txHashes []chainhash.Hash) []chainhash.Hash {
	if len(txHashes) <= 1 {
		return []chainhash.Hash{}
	}

	level := make([]chainhash.Hash, len(txHashes))
	copy(level, txHashes)

	var branch []chainhash.Hash
	index := 0

	for len(level) > 1 {
		sibling := index ^ 1
		if sibling < len(level) {
			branch = append(branch, level[sibling])
		} else {
			branch = append(branch, level[index])
		}

		next := make([]chainhash.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
		index /= 2
	}

	return branch
}

// RootFromBranch folds a coinbase hash through a merkle branch, producing
// the root that belongs in the block header. The coinbase sits at index 0,
// so every fold places the branch hash on the right.
func RootFromBranch(coinbaseHash chainhash.Hash, branch []chainhash.Hash) chainhash.Hash {
	root := coinbaseHash
	for _, h := range branch {
		root = hashPair(root, h)
	}
	return root
}
