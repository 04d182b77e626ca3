// Package ledger is the pool's share accounting engine: an append-only
// record of submissions with derived hashrate aggregates, block reward
// splits, and per-miner unpaid credit.
package ledger

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/quarrypool/quarry/internal/events"
	"github.com/quarrypool/quarry/pkg/log"
)

// shardCount bounds lock contention across concurrently submitting miners.
const shardCount = 64

// Share is one recorded submission attempt. Immutable once recorded.
type Share struct {
	WorkerID    string
	MinerAddr   string
	SourceIP    string
	JobID       string
	Difficulty  float64
	Valid       bool
	IsBlock     bool
	BlockHeight int64
	BlockHash   string
	SubmittedAt time.Time
}

// ShareWriter persists shares for the audit trail. Failures are logged and
// do not affect accounting; the in-memory ledger stays authoritative.
type ShareWriter interface {
	InsertShare(share *Share) error
}

// HashrateCache receives recomputed hashrate samples for external readers.
type HashrateCache interface {
	SetMinerHashrate(minerAddr string, hashrate float64) error
	SetPoolHashrate(hashrate float64) error
}

type windowEntry struct {
	minerAddr  string
	difficulty float64
	at         time.Time
}

// minerShard holds the per-miner share windows for a slice of the miner
// keyspace, so writers for different miners rarely contend.
type minerShard struct {
	mu     sync.Mutex
	miners map[string][]windowEntry
}

// Config holds the accounting parameters.
type Config struct {
	HashrateWindow time.Duration
	RewardWindow   time.Duration
	FeePercent     float64
}

// Ledger owns all share accounting state.
type Ledger struct {
	cfg    *Config
	sink   events.Sink
	logger *log.Logger
	writer ShareWriter
	cache  HashrateCache

	shards [shardCount]*minerShard

	// poolMu guards the pool-wide window used for pool hashrate and the
	// reward split, kept separate from the per-miner shards.
	poolMu     sync.Mutex
	poolWindow []windowEntry

	balanceMu sync.Mutex
	balances  map[string]int64
}

// New creates a ledger. writer and cache may be nil.
func New(cfg *Config, sink events.Sink, logger *log.Logger, writer ShareWriter, cache HashrateCache) *Ledger {
	l := &Ledger{
		cfg:      cfg,
		sink:     sink,
		logger:   logger.WithComponent("ledger"),
		writer:   writer,
		cache:    cache,
		balances: make(map[string]int64),
	}
	for i := range l.shards {
		l.shards[i] = &minerShard{miners: make(map[string][]windowEntry)}
	}
	return l
}

func (l *Ledger) shardFor(minerAddr string) *minerShard {
	h := fnv.New32a()
	h.Write([]byte(minerAddr))
	return l.shards[h.Sum32()%shardCount]
}

// AddShare records a submission. Valid shares update the miner's and the
// pool's trailing windows; the miner's hashrate is recomputed immediately
// and emitted, so accounting is current before the next submission.
func (l *Ledger) AddShare(share *Share) {
	if share.SubmittedAt.IsZero() {
		share.SubmittedAt = time.Now().UTC()
	}

	if l.writer != nil {
		if err := l.writer.InsertShare(share); err != nil {
			l.logger.WithError(err).Warn("Share persistence failed", "worker_id", share.WorkerID)
		}
	}

	if !share.Valid {
		return
	}

	entry := windowEntry{
		minerAddr:  share.MinerAddr,
		difficulty: share.Difficulty,
		at:         share.SubmittedAt,
	}

	now := share.SubmittedAt

	shard := l.shardFor(share.MinerAddr)
	shard.mu.Lock()
	window := append(shard.miners[share.MinerAddr], entry)
	window = pruneWindow(window, now.Add(-l.cfg.HashrateWindow))
	shard.miners[share.MinerAddr] = window
	minerSum := sumDifficulty(window)
	shard.mu.Unlock()

	l.poolMu.Lock()
	// The pool window serves both hashrate (W) and reward split (R), so
	// prune to the longer of the two.
	retain := l.cfg.HashrateWindow
	if l.cfg.RewardWindow > retain {
		retain = l.cfg.RewardWindow
	}
	l.poolWindow = pruneWindow(append(l.poolWindow, entry), now.Add(-retain))
	l.poolMu.Unlock()

	hashrate := difficultyToHashrate(minerSum, l.cfg.HashrateWindow)
	if l.cache != nil {
		if err := l.cache.SetMinerHashrate(share.MinerAddr, hashrate); err != nil {
			l.logger.WithError(err).Debug("Hashrate cache update failed", "miner", share.MinerAddr)
		}
	}

	l.sink.Publish(events.TypeHashrateUpdate, events.HashrateEvent{
		MinerAddr: share.MinerAddr,
		Hashrate:  hashrate,
		Window:    l.cfg.HashrateWindow.String(),
	})
}

// MinerHashrate returns the miner's estimated hashrate over the trailing
// hashrate window.
func (l *Ledger) MinerHashrate(minerAddr string) float64 {
	cutoff := time.Now().UTC().Add(-l.cfg.HashrateWindow)

	shard := l.shardFor(minerAddr)
	shard.mu.Lock()
	window := pruneWindow(shard.miners[minerAddr], cutoff)
	shard.miners[minerAddr] = window
	sum := sumDifficulty(window)
	shard.mu.Unlock()

	return difficultyToHashrate(sum, l.cfg.HashrateWindow)
}

// PoolHashrate returns the pool-wide estimated hashrate.
func (l *Ledger) PoolHashrate() float64 {
	cutoff := time.Now().UTC().Add(-l.cfg.HashrateWindow)

	l.poolMu.Lock()
	sum := 0.0
	for _, e := range l.poolWindow {
		if !e.at.Before(cutoff) {
			sum += e.difficulty
		}
	}
	l.poolMu.Unlock()

	hashrate := difficultyToHashrate(sum, l.cfg.HashrateWindow)
	if l.cache != nil {
		if err := l.cache.SetPoolHashrate(hashrate); err != nil {
			l.logger.WithError(err).Debug("Pool hashrate cache update failed")
		}
	}
	return hashrate
}

// difficultyToHashrate converts a summed share difficulty over a window
// into hashes per second: sum * 2^32 / window_seconds.
func difficultyToHashrate(difficultySum float64, window time.Duration) float64 {
	seconds := window.Seconds()
	if seconds <= 0 {
		return 0
	}
	return difficultySum * 4294967296.0 / seconds
}

func pruneWindow(window []windowEntry, cutoff time.Time) []windowEntry {
	idx := 0
	for idx < len(window) && window[idx].at.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return window
	}
	remaining := make([]windowEntry, len(window)-idx)
	copy(remaining, window[idx:])
	return remaining
}

func sumDifficulty(window []windowEntry) float64 {
	sum := 0.0
	for _, e := range window {
		sum += e.difficulty
	}
	return sum
}
