package mining

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Submit carries the miner-supplied fields of a mining.submit call.
type Submit struct {
	WorkerName  string
	JobID       string
	ExtraNonce2 string
	NTime       string
	Nonce       string
}

// HeaderForSubmit reconstructs the 80-byte block header a miner hashed for
// the given job and submit parameters.
func HeaderForSubmit(job *Job, extraNonce1 string, sub *Submit) (*wire.BlockHeader, chainhash.Hash, error) {
	coinbase, err := AssembleCoinbase(job.Coinbase, extraNonce1, sub.ExtraNonce2)
	if err != nil {
		return nil, chainhash.Hash{}, err
	}

	merkleRoot := RootFromBranch(CoinbaseHash(coinbase), job.MerkleBranch)

	prevHash, err := chainhash.NewHashFromStr(job.PrevHash)
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("invalid previous block hash: %w", err)
	}

	ntime, err := parseHexUint32(sub.NTime)
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("invalid ntime: %w", err)
	}
	nonce, err := parseHexUint32(sub.Nonce)
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("invalid nonce: %w", err)
	}
	bits, err := parseHexUint32(job.NBits)
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("invalid bits: %w", err)
	}

	header := &wire.BlockHeader{
		Version:    job.Version,
		PrevBlock:  *prevHash,
		MerkleRoot: merkleRoot,
		Timestamp:  time.Unix(int64(ntime), 0),
		Bits:       bits,
		Nonce:      nonce,
	}

	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("failed to serialize header: %w", err)
	}

	return header, chainhash.DoubleHashH(buf.Bytes()), nil
}

// ReconstructBlock assembles the full block for a winning share: the
// miner's coinbase followed by every template transaction. Returns the
// block hex ready for submitblock.
func ReconstructBlock(job *Job, extraNonce1 string, sub *Submit) (string, error) {
	header, _, err := HeaderForSubmit(job, extraNonce1, sub)
	if err != nil {
		return "", err
	}

	coinbaseBytes, err := AssembleCoinbase(job.Coinbase, extraNonce1, sub.ExtraNonce2)
	if err != nil {
		return "", err
	}
	coinbaseTx := &wire.MsgTx{}
	if err := coinbaseTx.Deserialize(bytes.NewReader(coinbaseBytes)); err != nil {
		return "", fmt.Errorf("failed to deserialize coinbase: %w", err)
	}

	block := &wire.MsgBlock{Header: *header}
	block.AddTransaction(coinbaseTx)

	for _, tx := range job.Template.Transactions {
		txBytes, err := hex.DecodeString(tx.Data)
		if err != nil {
			return "", fmt.Errorf("invalid transaction data in template: %w", err)
		}
		msgTx := &wire.MsgTx{}
		if err := msgTx.Deserialize(bytes.NewReader(txBytes)); err != nil {
			return "", fmt.Errorf("failed to deserialize transaction: %w", err)
		}
		block.AddTransaction(msgTx)
	}

	var buf bytes.Buffer
	buf.Grow(1024 * 1024)
	if err := block.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize block: %w", err)
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// parseHexUint32 decodes an 8-character hex string as a big-endian uint32.
// Stratum transmits ntime, nonce, and nbits in this form.
func parseHexUint32(hexStr string) (uint32, error) {
	if len(hexStr) != 8 {
		return 0, fmt.Errorf("expected 8 hex characters, got %d", len(hexStr))
	}
	val, err := hex.DecodeString(hexStr)
	if err != nil {
		return 0, fmt.Errorf("failed to decode hex string: %w", err)
	}
	return uint32(val[0])<<24 | uint32(val[1])<<16 | uint32(val[2])<<8 | uint32(val[3]), nil
}
