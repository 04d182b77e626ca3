// Package payout converts accumulated miner credit into batched on-chain
// transactions with an explicit, monotone payout lifecycle.
package payout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarrypool/quarry/internal/events"
	"github.com/quarrypool/quarry/internal/node"
	"github.com/quarrypool/quarry/pkg/errors"
	"github.com/quarrypool/quarry/pkg/log"
)

// Status is the lifecycle state of a payout. Transitions are monotone:
// pending to processing to completed or failed. Failed is terminal and
// requires administrative re-creation, never an automatic retry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Payout is one promise to pay a miner. Amount is fixed at creation.
type Payout struct {
	ID          string
	MinerAddr   string
	Amount      int64
	Status      Status
	TxID        string
	Error       string
	CreatedAt   time.Time
	ProcessedAt time.Time
}

// CreditSource is the ledger view the engine consumes.
type CreditSource interface {
	BalancesAtOrAbove(threshold int64) map[string]int64
	Debit(minerAddr string, amount int64) error
}

// PayoutWriter persists payout records and status changes for the audit
// trail. Failures are logged; the in-memory records stay authoritative.
type PayoutWriter interface {
	InsertPayout(p *Payout) error
	UpdatePayout(p *Payout) error
}

// Config holds the payout parameters.
type Config struct {
	MinPayout int64
	BatchSize int
	Interval  time.Duration
}

// Engine is the single authoritative payout processor for the pool wallet.
// Scheduled and manual triggers share one single-flight guard so two batch
// runs can never race on the wallet's unspent outputs.
type Engine struct {
	cfg    *Config
	credit CreditSource
	client node.Client
	sink   events.Sink
	logger *log.Logger
	writer PayoutWriter

	// flightMu is the single-flight guard. TryLock, never Lock: an
	// overlapping trigger is skipped, not queued.
	flightMu sync.Mutex

	mu      sync.Mutex
	payouts []*Payout

	idCounter atomic.Uint64
}

// New creates a payout engine. writer may be nil.
func New(cfg *Config, credit CreditSource, client node.Client, sink events.Sink, logger *log.Logger, writer PayoutWriter) *Engine {
	return &Engine{
		cfg:    cfg,
		credit: credit,
		client: client,
		sink:   sink,
		logger: logger.WithComponent("payout"),
		writer: writer,
	}
}

// CreatePayout debits a miner's ledger credit and records a pending
// payout. Amounts below the configured minimum are rejected.
func (e *Engine) CreatePayout(minerAddr string, amount int64) (*Payout, error) {
	if amount < e.cfg.MinPayout {
		return nil, errors.New(errors.ErrorTypePayout, "create_payout",
			"amount below minimum payout threshold").
			WithContext("miner", minerAddr).
			WithContext("amount", amount).
			WithContext("minimum", e.cfg.MinPayout)
	}

	if err := e.credit.Debit(minerAddr, amount); err != nil {
		return nil, err
	}

	p := &Payout{
		ID:        fmt.Sprintf("payout-%d", e.idCounter.Add(1)),
		MinerAddr: minerAddr,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	e.payouts = append(e.payouts, p)
	e.mu.Unlock()

	e.persistInsert(p)

	e.sink.Publish(events.TypePayoutCreated, events.PayoutEvent{
		PayoutID:  p.ID,
		MinerAddr: p.MinerAddr,
		Amount:    p.Amount,
		Status:    string(p.Status),
	})

	return p, nil
}

// CreatePendingFromLedger creates a pending payout for every miner whose
// unpaid credit has reached the minimum threshold.
func (e *Engine) CreatePendingFromLedger() int {
	created := 0
	for addr, balance := range e.credit.BalancesAtOrAbove(e.cfg.MinPayout) {
		if _, err := e.CreatePayout(addr, balance); err != nil {
			e.logger.WithError(err).Warn("Payout creation failed", "miner", addr)
			continue
		}
		created++
	}
	return created
}

// Run drives the scheduled payout cycle: once immediately on start, then
// on every interval tick, until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.cycle(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Payout engine stopping")
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

func (e *Engine) cycle(ctx context.Context) {
	e.CreatePendingFromLedger()
	if _, err := e.TriggerBatch(ctx); err != nil {
		e.logger.WithError(err).Error("Payout cycle failed")
	}
}

// TriggerBatch runs one batch cycle over all pending payouts. It is safe
// to call from the scheduler and from a manual administrative trigger
// concurrently: only one run proceeds, the other returns immediately with
// ran=false.
func (e *Engine) TriggerBatch(ctx context.Context) (ran bool, err error) {
	if !e.flightMu.TryLock() {
		e.logger.Debug("Payout batch already in progress, skipping trigger")
		return false, nil
	}
	defer e.flightMu.Unlock()

	pending := e.takePending()
	if len(pending) == 0 {
		return true, nil
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		e.processBatch(ctx, pending[start:end])
	}

	return true, nil
}

// takePending snapshots all pending payouts and marks them processing.
func (e *Engine) takePending() []*Payout {
	e.mu.Lock()
	defer e.mu.Unlock()

	var pending []*Payout
	for _, p := range e.payouts {
		if p.Status == StatusPending {
			p.Status = StatusProcessing
			pending = append(pending, p)
		}
	}
	return pending
}

// processBatch settles one batch with a single combined transaction.
// The batch is all-or-nothing: one transaction either broadcasts for
// every member or fails for every member.
func (e *Engine) processBatch(ctx context.Context, batch []*Payout) {
	outputs := make(map[string]int64, len(batch))
	total := int64(0)
	for _, p := range batch {
		outputs[p.MinerAddr] += p.Amount
		total += p.Amount
	}

	txID, err := e.broadcast(ctx, outputs)
	now := time.Now().UTC()

	if err != nil {
		reason := err.Error()
		for _, p := range batch {
			e.mu.Lock()
			p.Status = StatusFailed
			p.Error = reason
			p.ProcessedAt = now
			e.mu.Unlock()

			e.persistUpdate(p)
			e.sink.Publish(events.TypePayoutFailed, events.PayoutEvent{
				PayoutID:  p.ID,
				MinerAddr: p.MinerAddr,
				Amount:    p.Amount,
				Status:    string(StatusFailed),
				Error:     reason,
			})
		}
		e.logger.LogPayoutBatch(len(batch), total, "", string(StatusFailed))
		return
	}

	for _, p := range batch {
		e.mu.Lock()
		p.Status = StatusCompleted
		p.TxID = txID
		p.ProcessedAt = now
		e.mu.Unlock()

		e.persistUpdate(p)
		e.sink.Publish(events.TypePayoutCompleted, events.PayoutEvent{
			PayoutID:  p.ID,
			MinerAddr: p.MinerAddr,
			Amount:    p.Amount,
			Status:    string(StatusCompleted),
			TxID:      txID,
		})
	}
	e.logger.LogPayoutBatch(len(batch), total, txID, string(StatusCompleted))
}

func (e *Engine) broadcast(ctx context.Context, outputs map[string]int64) (string, error) {
	rawTx, err := e.client.CreateRawTransaction(ctx, outputs)
	if err != nil {
		return "", err
	}
	return e.client.SignAndSendRawTransaction(ctx, rawTx)
}

// Payouts returns a snapshot of all payout records.
func (e *Engine) Payouts() []*Payout {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Payout, len(e.payouts))
	for i, p := range e.payouts {
		cp := *p
		out[i] = &cp
	}
	return out
}

func (e *Engine) persistInsert(p *Payout) {
	if e.writer == nil {
		return
	}
	if err := e.writer.InsertPayout(p); err != nil {
		e.logger.WithError(err).Warn("Payout persistence failed", "payout_id", p.ID)
	}
}

func (e *Engine) persistUpdate(p *Payout) {
	if e.writer == nil {
		return
	}
	if err := e.writer.UpdatePayout(p); err != nil {
		e.logger.WithError(err).Warn("Payout status persistence failed", "payout_id", p.ID)
	}
}
