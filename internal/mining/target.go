// Package mining implements Bitcoin proof-of-work primitives for the pool:
// difficulty targets, merkle trees, coinbase construction, and block assembly.
package mining

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// maxTargetBytes is Bitcoin's difficulty-1 target,
// 0x00000000FFFF0000000000000000000000000000000000000000000000000000.
var maxTargetBytes = []byte{
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// bigIntPool and bigFloatPool reduce allocations in the share validation
// hot path, where DifficultyToTarget runs once per submitted share.
var (
	bigIntPool = sync.Pool{
		New: func() any { return new(big.Int) },
	}
	bigFloatPool = sync.Pool{
		New: func() any { return new(big.Float) },
	}
)

// DifficultyToTarget converts a mining difficulty into the 32-byte
// big-endian target threshold. A hash at or below the target satisfies the
// difficulty. Fractional difficulties are supported.
func DifficultyToTarget(difficulty float64) []byte {
	result := make([]byte, 32)

	if difficulty <= 0 {
		copy(result, maxTargetBytes)
		return result
	}

	maxTarget := bigIntPool.Get().(*big.Int)
	defer bigIntPool.Put(maxTarget)
	maxTarget.SetBytes(maxTargetBytes)

	maxTargetFloat := bigFloatPool.Get().(*big.Float)
	defer bigFloatPool.Put(maxTargetFloat)
	maxTargetFloat.SetInt(maxTarget)

	difficultyFloat := bigFloatPool.Get().(*big.Float)
	defer bigFloatPool.Put(difficultyFloat)
	difficultyFloat.SetFloat64(difficulty)

	targetFloat := bigFloatPool.Get().(*big.Float)
	defer bigFloatPool.Put(targetFloat)
	targetFloat.Quo(maxTargetFloat, difficultyFloat)

	target := bigIntPool.Get().(*big.Int)
	defer bigIntPool.Put(target)
	targetFloat.Int(target)

	targetBytes := target.Bytes()
	if len(targetBytes) <= 32 {
		copy(result[32-len(targetBytes):], targetBytes)
	} else {
		copy(result, maxTargetBytes)
	}

	return result
}

// HashMeetsTarget reports whether a header hash satisfies the target.
// chainhash stores hashes little-endian, so bytes are reversed before the
// big-endian comparison.
func HashMeetsTarget(hash chainhash.Hash, target []byte) bool {
	for i := 0; i < 32; i++ {
		b := hash[31-i]
		if b < target[i] {
			return true
		}
		if b > target[i] {
			return false
		}
	}
	return true
}

// ParseNetworkTarget decodes the hex target from a block template into a
// 32-byte threshold, left-padding short values.
func ParseNetworkTarget(targetStr string) ([]byte, error) {
	if targetStr == "" {
		return nil, fmt.Errorf("target string cannot be empty")
	}
	if len(targetStr)%2 != 0 || len(targetStr) > 64 {
		return nil, fmt.Errorf("invalid target string length %d", len(targetStr))
	}

	target, err := hex.DecodeString(targetStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex target: %w", err)
	}

	if len(target) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(target):], target)
		target = padded
	}

	return target, nil
}
