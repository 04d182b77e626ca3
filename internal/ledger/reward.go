package ledger

import (
	"math/big"
	"sort"
	"time"

	"github.com/quarrypool/quarry/pkg/errors"
)

// RewardSplit is the outcome of distributing one block reward.
type RewardSplit struct {
	BlockReward int64
	PoolFee     int64
	Amounts     map[string]int64
}

// DistributeReward splits a found block's reward (satoshis) across every
// miner with valid shares in the trailing reward window, proportional to
// their summed share difficulty. The pool fee is taken off the top and
// absorbs all rounding remainders, so fee plus the miner amounts equals
// the reward exactly. Each miner's amount is credited to their unpaid
// balance.
func (l *Ledger) DistributeReward(blockReward int64) (*RewardSplit, error) {
	cutoff := time.Now().UTC().Add(-l.cfg.RewardWindow)

	l.poolMu.Lock()
	sums := make(map[string]float64)
	for _, e := range l.poolWindow {
		if !e.at.Before(cutoff) {
			sums[e.minerAddr] += e.difficulty
		}
	}
	l.poolMu.Unlock()

	if len(sums) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "distribute_reward",
			"no shares in reward window, skipping distribution").
			WithContext("window", l.cfg.RewardWindow.String())
	}

	total := 0.0
	for _, s := range sums {
		total += s
	}

	fee := feeAmount(blockReward, l.cfg.FeePercent)
	distributable := blockReward - fee

	// Deterministic iteration keeps rounding behavior stable across runs.
	miners := make([]string, 0, len(sums))
	for addr := range sums {
		miners = append(miners, addr)
	}
	sort.Strings(miners)

	amounts := make(map[string]int64, len(miners))
	distributed := int64(0)
	for _, addr := range miners {
		amount := proportion(distributable, sums[addr], total)
		amounts[addr] = amount
		distributed += amount
	}

	// Rounding remainder goes to the pool fee, never dropped.
	fee += distributable - distributed

	l.balanceMu.Lock()
	for addr, amount := range amounts {
		l.balances[addr] += amount
	}
	l.balanceMu.Unlock()

	l.logger.Info("Block reward distributed",
		"reward", blockReward,
		"fee", fee,
		"miners", len(amounts))

	return &RewardSplit{
		BlockReward: blockReward,
		PoolFee:     fee,
		Amounts:     amounts,
	}, nil
}

// feeAmount computes floor(reward * percent / 100) with exact integer math.
func feeAmount(reward int64, percent float64) int64 {
	f := new(big.Float).SetInt64(reward)
	f.Mul(f, big.NewFloat(percent))
	f.Quo(f, big.NewFloat(100))
	out, _ := f.Int64()
	return out
}

// proportion computes floor(distributable * minerSum / totalSum) using
// big.Float to avoid precision loss on large rewards.
func proportion(distributable int64, minerSum, totalSum float64) int64 {
	f := new(big.Float).SetInt64(distributable)
	f.Mul(f, big.NewFloat(minerSum))
	f.Quo(f, big.NewFloat(totalSum))
	out, _ := f.Int64()
	return out
}

// UnpaidBalance returns a miner's current unpaid credit in satoshis.
func (l *Ledger) UnpaidBalance(minerAddr string) int64 {
	l.balanceMu.Lock()
	defer l.balanceMu.Unlock()
	return l.balances[minerAddr]
}

// BalancesAtOrAbove returns every miner whose unpaid credit has reached
// the threshold. Used by the payout engine to create pending payouts.
func (l *Ledger) BalancesAtOrAbove(threshold int64) map[string]int64 {
	l.balanceMu.Lock()
	defer l.balanceMu.Unlock()

	out := make(map[string]int64)
	for addr, bal := range l.balances {
		if bal >= threshold {
			out[addr] = bal
		}
	}
	return out
}

// Debit removes credit from a miner's balance when a payout is created.
// Credit leaves the ledger at payout creation and is never restored here;
// a failed payout requires administrative re-creation.
func (l *Ledger) Debit(minerAddr string, amount int64) error {
	if amount <= 0 {
		return errors.New(errors.ErrorTypeValidation, "debit",
			"debit amount must be positive")
	}

	l.balanceMu.Lock()
	defer l.balanceMu.Unlock()

	if l.balances[minerAddr] < amount {
		return errors.New(errors.ErrorTypeValidation, "debit",
			"insufficient unpaid credit").
			WithContext("miner", minerAddr).
			WithContext("balance", l.balances[minerAddr]).
			WithContext("amount", amount)
	}
	l.balances[minerAddr] -= amount
	return nil
}

// Credit adds unpaid credit directly. Used for administrative adjustments.
func (l *Ledger) Credit(minerAddr string, amount int64) {
	l.balanceMu.Lock()
	l.balances[minerAddr] += amount
	l.balanceMu.Unlock()
}
