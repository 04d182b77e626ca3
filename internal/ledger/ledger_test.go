package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/quarrypool/quarry/internal/events"
	"github.com/quarrypool/quarry/pkg/log"
)

func testLedger(t *testing.T) (*Ledger, *events.MemorySink) {
	t.Helper()
	sink := events.NewMemorySink()
	cfg := &Config{
		HashrateWindow: 10 * time.Minute,
		RewardWindow:   60 * time.Minute,
		FeePercent:     1.0,
	}
	logger := log.New("quarryd-test", "test", "error", "text")
	return New(cfg, sink, logger, nil, nil), sink
}

func validShare(miner string, difficulty float64) *Share {
	return &Share{
		WorkerID:    miner + ".rig0",
		MinerAddr:   miner,
		JobID:       "1",
		Difficulty:  difficulty,
		Valid:       true,
		SubmittedAt: time.Now().UTC(),
	}
}

func TestMinerHashrate(t *testing.T) {
	l, sink := testLedger(t)

	l.AddShare(validShare("miner-a", 8))
	l.AddShare(validShare("miner-a", 8))

	// 16 difficulty * 2^32 / 600s
	want := 16.0 * 4294967296.0 / 600.0
	got := l.MinerHashrate("miner-a")
	if math.Abs(got-want) > 1 {
		t.Errorf("MinerHashrate = %v, want %v", got, want)
	}

	if sink.CountByType(events.TypeHashrateUpdate) != 2 {
		t.Errorf("expected a hashrate update per valid share, got %d", sink.CountByType(events.TypeHashrateUpdate))
	}
}

func TestInvalidSharesDoNotCount(t *testing.T) {
	l, sink := testLedger(t)

	share := validShare("miner-a", 100)
	share.Valid = false
	l.AddShare(share)

	if l.MinerHashrate("miner-a") != 0 {
		t.Error("invalid share must not contribute to hashrate")
	}
	if sink.CountByType(events.TypeHashrateUpdate) != 0 {
		t.Error("invalid share must not emit a hashrate update")
	}
}

func TestPoolHashrateAggregatesMiners(t *testing.T) {
	l, _ := testLedger(t)

	l.AddShare(validShare("miner-a", 4))
	l.AddShare(validShare("miner-b", 12))

	want := 16.0 * 4294967296.0 / 600.0
	got := l.PoolHashrate()
	if math.Abs(got-want) > 1 {
		t.Errorf("PoolHashrate = %v, want %v", got, want)
	}
}

func TestHashratePureFunctionOfShares(t *testing.T) {
	// Replayed submissions become independent rows; the aggregate is just
	// the double count, nothing more.
	l, _ := testLedger(t)

	share := validShare("miner-a", 8)
	l.AddShare(share)
	single := l.MinerHashrate("miner-a")

	l.AddShare(validShare("miner-a", 8))
	double := l.MinerHashrate("miner-a")

	if math.Abs(double-2*single) > 1 {
		t.Errorf("replayed share should exactly double the aggregate: %v vs %v", double, 2*single)
	}
}

func TestDistributeReward(t *testing.T) {
	l, _ := testLedger(t)

	// Miner A holds 300 difficulty in the window, miner B holds 100.
	for i := 0; i < 3; i++ {
		l.AddShare(validShare("miner-a", 100))
	}
	l.AddShare(validShare("miner-b", 100))

	const blockReward = int64(625_000_000) // 6.25 coins in satoshis
	split, err := l.DistributeReward(blockReward)
	if err != nil {
		t.Fatalf("DistributeReward() error = %v", err)
	}

	if split.PoolFee != 6_250_000 {
		t.Errorf("PoolFee = %d, want 6250000", split.PoolFee)
	}
	if split.Amounts["miner-a"] != 464_062_500 {
		t.Errorf("miner-a amount = %d, want 464062500", split.Amounts["miner-a"])
	}
	if split.Amounts["miner-b"] != 154_687_500 {
		t.Errorf("miner-b amount = %d, want 154687500", split.Amounts["miner-b"])
	}

	// Fee plus distributed amounts must account for every satoshi.
	total := split.PoolFee
	for _, amt := range split.Amounts {
		total += amt
	}
	if total != blockReward {
		t.Errorf("fee + amounts = %d, want %d", total, blockReward)
	}

	if l.UnpaidBalance("miner-a") != 464_062_500 {
		t.Errorf("miner-a balance = %d, want 464062500", l.UnpaidBalance("miner-a"))
	}
}

func TestDistributeRewardRoundingGoesToFee(t *testing.T) {
	l, _ := testLedger(t)

	// Three equal miners cannot split evenly; the remainder belongs to
	// the fee.
	l.AddShare(validShare("miner-a", 1))
	l.AddShare(validShare("miner-b", 1))
	l.AddShare(validShare("miner-c", 1))

	const blockReward = int64(100)
	split, err := l.DistributeReward(blockReward)
	if err != nil {
		t.Fatalf("DistributeReward() error = %v", err)
	}

	total := split.PoolFee
	for _, amt := range split.Amounts {
		total += amt
	}
	if total != blockReward {
		t.Errorf("fee + amounts = %d, want %d", total, blockReward)
	}
}

func TestDistributeRewardNoShares(t *testing.T) {
	l, _ := testLedger(t)

	if _, err := l.DistributeReward(625_000_000); err == nil {
		t.Error("distribution with an empty reward window must fail")
	}
}

func TestDebit(t *testing.T) {
	l, _ := testLedger(t)

	l.Credit("miner-a", 1000)

	if err := l.Debit("miner-a", 600); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if l.UnpaidBalance("miner-a") != 400 {
		t.Errorf("balance = %d, want 400", l.UnpaidBalance("miner-a"))
	}

	if err := l.Debit("miner-a", 500); err == nil {
		t.Error("over-debit must be rejected")
	}
	if err := l.Debit("miner-a", 0); err == nil {
		t.Error("zero debit must be rejected")
	}
}

func TestBalancesAtOrAbove(t *testing.T) {
	l, _ := testLedger(t)

	l.Credit("miner-a", 1000)
	l.Credit("miner-b", 99)
	l.Credit("miner-c", 100)

	payable := l.BalancesAtOrAbove(100)
	if len(payable) != 2 {
		t.Fatalf("payable count = %d, want 2", len(payable))
	}
	if _, ok := payable["miner-b"]; ok {
		t.Error("miner-b is below threshold and must not be payable")
	}
}
