package mining

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ExtraNonce sizes in bytes. ExtraNonce1 is assigned per session,
// ExtraNonce2 is iterated by the miner.
const (
	ExtraNonce1Size = 4
	ExtraNonce2Size = 4
)

// poolSignature is embedded in every coinbase script after the BIP 34
// height push.
var poolSignature = []byte("/quarry/")

// CoinbaseParts holds the serialized coinbase split around the extra nonce
// region, as delivered to miners in mining.notify.
type CoinbaseParts struct {
	Coinb1 string
	Coinb2 string
}

// BuildCoinbase constructs a BIP 34 coinbase paying the full reward to the
// pool address and splits its serialization around an 8-byte extra nonce
// placeholder.
func BuildCoinbase(height int64, value int64, poolAddress string, params *chaincfg.Params) (*CoinbaseParts, error) {
	tx := wire.NewMsgTx(wire.TxVersion)

	heightScript, err := txscript.NewScriptBuilder().AddInt64(height).Script()
	if err != nil {
		return nil, fmt.Errorf("failed to build height script: %w", err)
	}

	prefix := append(heightScript, poolSignature...)
	placeholder := make([]byte, ExtraNonce1Size+ExtraNonce2Size)
	script := append(append([]byte{}, prefix...), placeholder...)

	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{},
			Index: 0xffffffff,
		},
		SignatureScript: script,
		Sequence:        0xffffffff,
	})

	addr, err := btcutil.DecodeAddress(poolAddress, params)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pool address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to build output script: %w", err)
	}
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: pkScript})

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize coinbase: %w", err)
	}
	serialized := buf.Bytes()

	// version(4) + input count(1) + prevout(36) + script length varint.
	scriptStart := 4 + 1 + 36 + 1
	if len(script) >= 253 {
		scriptStart += 2
	}
	split := scriptStart + len(prefix)

	if split+len(placeholder) >= len(serialized) {
		return nil, fmt.Errorf("coinbase split point out of range")
	}

	return &CoinbaseParts{
		Coinb1: hex.EncodeToString(serialized[:split]),
		Coinb2: hex.EncodeToString(serialized[split+len(placeholder):]),
	}, nil
}

// AssembleCoinbase concatenates coinb1, both extra nonces, and coinb2 into
// the full coinbase transaction bytes as the miner hashed them.
func AssembleCoinbase(parts *CoinbaseParts, extraNonce1, extraNonce2 string) ([]byte, error) {
	if len(extraNonce1) != ExtraNonce1Size*2 {
		return nil, fmt.Errorf("extraNonce1 must be %d hex characters, got %d", ExtraNonce1Size*2, len(extraNonce1))
	}
	if len(extraNonce2) != ExtraNonce2Size*2 {
		return nil, fmt.Errorf("extraNonce2 must be %d hex characters, got %d", ExtraNonce2Size*2, len(extraNonce2))
	}

	raw, err := hex.DecodeString(parts.Coinb1 + extraNonce1 + extraNonce2 + parts.Coinb2)
	if err != nil {
		return nil, fmt.Errorf("failed to decode coinbase hex: %w", err)
	}
	return raw, nil
}

// CoinbaseHash returns the txid of an assembled coinbase.
func CoinbaseHash(coinbase []byte) chainhash.Hash {
	return chainhash.DoubleHashH(coinbase)
}
