// Package events defines the pool's lifecycle event stream. Events are
// emitted fire-and-forget with at-most-once delivery; a failed publish is
// logged and dropped, never retried.
package events

import (
	"time"
)

// Type identifies an event category on the stream.
type Type string

const (
	TypeWorkerConnected    Type = "worker:connected"
	TypeWorkerDisconnected Type = "worker:disconnected"
	TypeShareSubmitted     Type = "share:submitted"
	TypeHashrateUpdate     Type = "hashrate:update"
	TypeBlockFound         Type = "block:found"
	TypePayoutCreated      Type = "payout:created"
	TypePayoutCompleted    Type = "payout:completed"
	TypePayoutFailed       Type = "payout:failed"
)

// Event is the envelope published to the sink.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// WorkerEvent carries worker connect/disconnect details.
type WorkerEvent struct {
	WorkerID   string `json:"worker_id"`
	MinerAddr  string `json:"miner_addr,omitempty"`
	RemoteAddr string `json:"remote_addr"`
}

// ShareEvent is emitted for every accepted or rejected share.
type ShareEvent struct {
	WorkerID   string  `json:"worker_id"`
	MinerAddr  string  `json:"miner_addr"`
	JobID      string  `json:"job_id"`
	Difficulty float64 `json:"difficulty"`
	Valid      bool    `json:"valid"`
	Reason     string  `json:"reason,omitempty"`
}

// HashrateEvent carries a recomputed hashrate sample.
type HashrateEvent struct {
	MinerAddr string  `json:"miner_addr,omitempty"`
	Hashrate  float64 `json:"hashrate"`
	Window    string  `json:"window"`
}

// BlockEvent is emitted when a share meets the network target.
type BlockEvent struct {
	WorkerID  string `json:"worker_id"`
	MinerAddr string `json:"miner_addr"`
	JobID     string `json:"job_id"`
	BlockHash string `json:"block_hash"`
	Height    int64  `json:"height"`
	Reward    int64  `json:"reward"`
}

// PayoutEvent carries payout lifecycle transitions.
type PayoutEvent struct {
	PayoutID  string `json:"payout_id"`
	MinerAddr string `json:"miner_addr"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	TxID      string `json:"tx_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Sink receives pool events. Implementations must never block the caller
// beyond a bounded publish attempt and must swallow their own failures.
type Sink interface {
	Publish(eventType Type, payload interface{})
	Close() error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Type, interface{}) {}
func (NopSink) Close() error              { return nil }

var _ Sink = (*NopSink)(nil)
