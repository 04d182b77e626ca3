package mining

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Job is a unit of work derived from a block template and broadcast to
// every connected miner via mining.notify.
type Job struct {
	ID            string
	PrevHash      string
	Coinbase      *CoinbaseParts
	MerkleBranch  []chainhash.Hash
	Version       int32
	NBits         string
	NTime         string
	CleanJobs     bool
	Height        int64
	CoinbaseValue int64
	NetworkTarget []byte
	Template      *btcjson.GetBlockTemplateResult
	CreatedAt     time.Time
}

// NewJob derives a job from a block template. jobID must be unique and
// strictly increasing across the life of the server.
func NewJob(jobID string, template *btcjson.GetBlockTemplateResult, poolAddress string, params *chaincfg.Params) (*Job, error) {
	if template.CoinbaseValue == nil {
		return nil, fmt.Errorf("template missing coinbase value")
	}

	coinbase, err := BuildCoinbase(template.Height, *template.CoinbaseValue, poolAddress, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build coinbase: %w", err)
	}

	txHashes := make([]chainhash.Hash, len(template.Transactions)+1)
	// Index 0 is the coinbase; its hash depends on the extra nonce so the
	// branch is computed against a zero placeholder and folded at submit time.
	for i, tx := range template.Transactions {
		// Header merkle root is over txids; the hash field is the
		// witness hash for segwit transactions.
		id := tx.TxID
		if id == "" {
			id = tx.Hash
		}
		h, err := chainhash.NewHashFromStr(id)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction id in template: %w", err)
		}
		txHashes[i+1] = *h
	}

	networkTarget, err := ParseNetworkTarget(template.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid network target: %w", err)
	}

	return &Job{
		ID:            jobID,
		PrevHash:      template.PreviousHash,
		Coinbase:      coinbase,
		MerkleBranch:  MerkleBranch(txHashes),
		Version:       template.Version,
		NBits:         template.Bits,
		NTime:         fmt.Sprintf("%08x", template.CurTime),
		Height:        template.Height,
		CoinbaseValue: *template.CoinbaseValue,
		NetworkTarget: networkTarget,
		Template:      template,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// MerkleBranchHex returns the branch as hex strings for mining.notify.
func (j *Job) MerkleBranchHex() []string {
	out := make([]string, len(j.MerkleBranch))
	for i, h := range j.MerkleBranch {
		out[i] = hex.EncodeToString(h[:])
	}
	return out
}

// NotifyParams builds the mining.notify parameter list for this job.
func (j *Job) NotifyParams() []interface{} {
	return []interface{}{
		j.ID,
		j.PrevHash,
		j.Coinbase.Coinb1,
		j.Coinbase.Coinb2,
		j.MerkleBranchHex(),
		fmt.Sprintf("%08x", uint32(j.Version)),
		j.NBits,
		j.NTime,
		j.CleanJobs,
	}
}
