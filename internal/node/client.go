// Package node provides connectivity to the upstream full node: the
// JSON-RPC client used for templates, block submission, and payout
// transactions, plus the ZMQ listener for new-block notifications.
package node

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
)

// Client is the narrow node surface the pool depends on. Everything that
// talks to the chain goes through this interface so tests can inject a
// fake node.
type Client interface {
	// GetBlockTemplate fetches a fresh block template for job construction.
	GetBlockTemplate(ctx context.Context) (*btcjson.GetBlockTemplateResult, error)

	// SubmitBlock submits a solved block. It is never retried; a stale
	// submission is worthless seconds later.
	SubmitBlock(ctx context.Context, blockHex string) error

	// GetDifficulty returns the current network difficulty.
	GetDifficulty(ctx context.Context) (float64, error)

	// CreateRawTransaction builds an unsigned transaction paying the given
	// address to amount (satoshis) outputs.
	CreateRawTransaction(ctx context.Context, outputs map[string]int64) (string, error)

	// SignAndSendRawTransaction signs a raw transaction with the node
	// wallet and broadcasts it, returning the transaction id.
	SignAndSendRawTransaction(ctx context.Context, rawTx string) (string, error)

	// IsConnected reports whether the node is currently reachable.
	IsConnected(ctx context.Context) bool

	Close()
}
