package payout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/quarrypool/quarry/internal/events"
	"github.com/quarrypool/quarry/pkg/log"
)

// mockCredit implements CreditSource over a plain map.
type mockCredit struct {
	mu       sync.Mutex
	balances map[string]int64
}

func newMockCredit() *mockCredit {
	return &mockCredit{balances: make(map[string]int64)}
}

func (m *mockCredit) BalancesAtOrAbove(threshold int64) map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64)
	for addr, bal := range m.balances {
		if bal >= threshold {
			out[addr] = bal
		}
	}
	return out
}

func (m *mockCredit) Debit(minerAddr string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[minerAddr] < amount {
		return fmt.Errorf("insufficient credit")
	}
	m.balances[minerAddr] -= amount
	return nil
}

// mockNode implements node.Client with scriptable transaction behavior.
type mockNode struct {
	mu        sync.Mutex
	sendErr   error
	txCounter int
	sent      []map[string]int64
	blockCh   chan struct{} // if set, broadcast blocks until the channel closes
}

func (m *mockNode) GetBlockTemplate(context.Context) (*btcjson.GetBlockTemplateResult, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockNode) SubmitBlock(context.Context, string) error { return nil }

func (m *mockNode) GetDifficulty(context.Context) (float64, error) { return 1, nil }

func (m *mockNode) CreateRawTransaction(_ context.Context, outputs map[string]int64) (string, error) {
	m.mu.Lock()
	m.sent = append(m.sent, outputs)
	m.mu.Unlock()
	return "rawtx", nil
}

func (m *mockNode) SignAndSendRawTransaction(context.Context, string) (string, error) {
	if m.blockCh != nil {
		<-m.blockCh
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.txCounter++
	return fmt.Sprintf("txid-%d", m.txCounter), nil
}

func (m *mockNode) IsConnected(context.Context) bool { return true }

func (m *mockNode) Close() {}

func testEngine(t *testing.T, credit *mockCredit, client *mockNode) (*Engine, *events.MemorySink) {
	t.Helper()
	sink := events.NewMemorySink()
	cfg := &Config{
		MinPayout: 100,
		BatchSize: 50,
		Interval:  time.Hour,
	}
	logger := log.New("quarryd-test", "test", "error", "text")
	return New(cfg, credit, client, sink, logger, nil), sink
}

func TestCreatePayout(t *testing.T) {
	credit := newMockCredit()
	credit.balances["miner-a"] = 500
	e, sink := testEngine(t, credit, &mockNode{})

	p, err := e.CreatePayout("miner-a", 500)
	if err != nil {
		t.Fatalf("CreatePayout() error = %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("status = %s, want pending", p.Status)
	}
	if credit.balances["miner-a"] != 0 {
		t.Errorf("credit not debited, balance = %d", credit.balances["miner-a"])
	}
	if sink.CountByType(events.TypePayoutCreated) != 1 {
		t.Error("expected a payout:created event")
	}
}

func TestCreatePayoutBelowThreshold(t *testing.T) {
	credit := newMockCredit()
	credit.balances["miner-a"] = 99
	e, _ := testEngine(t, credit, &mockNode{})

	if _, err := e.CreatePayout("miner-a", 99); err == nil {
		t.Error("payout below minimum threshold must be rejected")
	}
	if credit.balances["miner-a"] != 99 {
		t.Error("rejected payout must not debit credit")
	}
}

func TestBatchSuccess(t *testing.T) {
	credit := newMockCredit()
	credit.balances["miner-a"] = 500
	credit.balances["miner-b"] = 300
	credit.balances["miner-c"] = 200
	client := &mockNode{}
	e, sink := testEngine(t, credit, client)

	if n := e.CreatePendingFromLedger(); n != 3 {
		t.Fatalf("created %d payouts, want 3", n)
	}

	ran, err := e.TriggerBatch(context.Background())
	if err != nil || !ran {
		t.Fatalf("TriggerBatch() = %v, %v", ran, err)
	}

	for _, p := range e.Payouts() {
		if p.Status != StatusCompleted {
			t.Errorf("payout %s status = %s, want completed", p.ID, p.Status)
		}
		if p.TxID != "txid-1" {
			t.Errorf("payout %s txid = %s, want shared txid-1", p.ID, p.TxID)
		}
	}

	if len(client.sent) != 1 {
		t.Fatalf("broadcast %d transactions, want 1", len(client.sent))
	}
	if client.sent[0]["miner-a"] != 500 {
		t.Errorf("miner-a output = %d, want 500", client.sent[0]["miner-a"])
	}
	if sink.CountByType(events.TypePayoutCompleted) != 3 {
		t.Errorf("completed events = %d, want 3", sink.CountByType(events.TypePayoutCompleted))
	}
}

func TestBatchFailureIsAllOrNothing(t *testing.T) {
	credit := newMockCredit()
	credit.balances["miner-a"] = 500
	credit.balances["miner-b"] = 300
	credit.balances["miner-c"] = 200
	client := &mockNode{sendErr: fmt.Errorf("broadcast refused")}
	e, sink := testEngine(t, credit, client)

	e.CreatePendingFromLedger()
	if _, err := e.TriggerBatch(context.Background()); err != nil {
		t.Fatalf("TriggerBatch() error = %v", err)
	}

	for _, p := range e.Payouts() {
		if p.Status != StatusFailed {
			t.Errorf("payout %s status = %s, want failed", p.ID, p.Status)
		}
		if p.Error == "" {
			t.Errorf("payout %s missing failure reason", p.ID)
		}
	}
	if sink.CountByType(events.TypePayoutCompleted) != 0 {
		t.Error("no payout may complete when the batch transaction fails")
	}
	if sink.CountByType(events.TypePayoutFailed) != 3 {
		t.Errorf("failed events = %d, want 3", sink.CountByType(events.TypePayoutFailed))
	}

	// Failed is terminal: a second cycle must not pick these up again.
	client.sendErr = nil
	if _, err := e.TriggerBatch(context.Background()); err != nil {
		t.Fatalf("TriggerBatch() error = %v", err)
	}
	for _, p := range e.Payouts() {
		if p.Status != StatusFailed {
			t.Errorf("failed payout %s transitioned to %s", p.ID, p.Status)
		}
	}
}

func TestBatchChunking(t *testing.T) {
	credit := newMockCredit()
	for i := 0; i < 5; i++ {
		credit.balances[fmt.Sprintf("miner-%d", i)] = 500
	}
	client := &mockNode{}
	e, _ := testEngine(t, credit, client)
	e.cfg.BatchSize = 2

	e.CreatePendingFromLedger()
	if _, err := e.TriggerBatch(context.Background()); err != nil {
		t.Fatalf("TriggerBatch() error = %v", err)
	}

	if len(client.sent) != 3 {
		t.Errorf("broadcast %d transactions for 5 payouts with batch size 2, want 3", len(client.sent))
	}
}

func TestConcurrentTriggersSingleFlight(t *testing.T) {
	credit := newMockCredit()
	credit.balances["miner-a"] = 500
	gate := make(chan struct{})
	client := &mockNode{blockCh: gate}
	e, _ := testEngine(t, credit, client)

	e.CreatePendingFromLedger()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if ran, _ := e.TriggerBatch(context.Background()); !ran {
			t.Error("first trigger should run")
		}
	}()

	// Wait until the first run is inside the broadcast call.
	deadline := time.After(2 * time.Second)
	for {
		client.mu.Lock()
		started := len(client.sent) > 0
		client.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first trigger never reached broadcast")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	ran, err := e.TriggerBatch(context.Background())
	if err != nil {
		t.Fatalf("second trigger error = %v", err)
	}
	if ran {
		t.Error("overlapping trigger must observe the single-flight guard and do nothing")
	}

	close(gate)
	<-done

	if len(client.sent) != 1 {
		t.Errorf("broadcast %d transactions, want exactly 1", len(client.sent))
	}
}
