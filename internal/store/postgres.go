// Package store provides the persistence layer behind the in-memory
// accounting: a PostgreSQL audit trail for shares and payouts and a Redis
// cache for hashrate samples read by external dashboards.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"

	"github.com/quarrypool/quarry/internal/ledger"
	"github.com/quarrypool/quarry/internal/payout"
	"github.com/quarrypool/quarry/pkg/circuit"
	"github.com/quarrypool/quarry/pkg/errors"
	"github.com/quarrypool/quarry/pkg/retry"
)

// PostgresClient wraps the pool's PostgreSQL connection. A single circuit
// breaker is shared by every repository built on the client.
type PostgresClient struct {
	db      *sql.DB
	breaker *circuit.Breaker
}

// NewPostgresClient opens a connection from a DSN URL and verifies it.
func NewPostgresClient(url string) (*PostgresClient, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	breaker := circuit.New(&circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	})

	return &PostgresClient{db: db, breaker: breaker}, nil
}

// Close closes the database connection.
func (c *PostgresClient) Close() error {
	return c.db.Close()
}

// EnsureSchema creates the audit tables if they do not exist.
func (c *PostgresClient) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS shares (
			id BIGSERIAL PRIMARY KEY,
			worker_id TEXT NOT NULL,
			miner_addr TEXT NOT NULL,
			source_ip TEXT NOT NULL,
			job_id TEXT NOT NULL,
			difficulty DOUBLE PRECISION NOT NULL,
			valid BOOLEAN NOT NULL,
			is_block BOOLEAN NOT NULL,
			block_height BIGINT,
			block_hash TEXT,
			submitted_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_shares_miner_time ON shares (miner_addr, submitted_at);

		CREATE TABLE IF NOT EXISTS payouts (
			id TEXT PRIMARY KEY,
			miner_addr TEXT NOT NULL,
			amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			tx_id TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts (status);`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ShareRepository persists share rows. Implements ledger.ShareWriter.
type ShareRepository struct {
	db       *sql.DB
	breaker  *circuit.Breaker
	retryCfg *retry.Config
	timeout  time.Duration
}

// NewShareRepository creates a share repository.
func NewShareRepository(c *PostgresClient) *ShareRepository {
	return &ShareRepository{
		db:       c.db,
		breaker:  c.breaker,
		retryCfg: retry.StorageConfig(),
		timeout:  5 * time.Second,
	}
}

// InsertShare appends one share row to the audit trail. Transient
// failures are retried; a persistently failing database trips the
// shared breaker.
func (r *ShareRepository) InsertShare(share *ledger.Share) error {
	query := `
		INSERT INTO shares (worker_id, miner_addr, source_ip, job_id, difficulty, valid, is_block, block_height, block_hash, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	return r.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, r.retryCfg, func() error {
			_, err := r.db.ExecContext(ctx, query,
				share.WorkerID, share.MinerAddr, share.SourceIP, share.JobID,
				share.Difficulty, share.Valid, share.IsBlock,
				share.BlockHeight, share.BlockHash, share.SubmittedAt,
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeStorage, "insert_share",
					"failed to insert share")
			}
			return nil
		})
	})
}

// CountValidShares returns how many valid shares a miner submitted since
// the given time.
func (r *ShareRepository) CountValidShares(ctx context.Context, minerAddr string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM shares WHERE miner_addr = $1 AND valid AND submitted_at >= $2`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, minerAddr, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count shares: %w", err)
	}
	return count, nil
}

// PayoutRepository persists payout lifecycle records. Implements
// payout.PayoutWriter.
type PayoutRepository struct {
	db       *sql.DB
	breaker  *circuit.Breaker
	retryCfg *retry.Config
	timeout  time.Duration
}

// NewPayoutRepository creates a payout repository.
func NewPayoutRepository(c *PostgresClient) *PayoutRepository {
	return &PayoutRepository{
		db:       c.db,
		breaker:  c.breaker,
		retryCfg: retry.StorageConfig(),
		timeout:  5 * time.Second,
	}
}

// InsertPayout records a newly created payout.
func (r *PayoutRepository) InsertPayout(p *payout.Payout) error {
	query := `
		INSERT INTO payouts (id, miner_addr, amount, status, tx_id, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	return r.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, r.retryCfg, func() error {
			_, err := r.db.ExecContext(ctx, query,
				p.ID, p.MinerAddr, p.Amount, string(p.Status), p.TxID, p.Error, p.CreatedAt,
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeStorage, "insert_payout",
					"failed to insert payout")
			}
			return nil
		})
	})
}

// UpdatePayout records a status transition.
func (r *PayoutRepository) UpdatePayout(p *payout.Payout) error {
	query := `
		UPDATE payouts SET status = $1, tx_id = $2, error = $3, processed_at = $4
		WHERE id = $5`

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	return r.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, r.retryCfg, func() error {
			_, err := r.db.ExecContext(ctx, query,
				string(p.Status), p.TxID, p.Error, p.ProcessedAt, p.ID,
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeStorage, "update_payout",
					"failed to update payout")
			}
			return nil
		})
	})
}

var (
	_ ledger.ShareWriter  = (*ShareRepository)(nil)
	_ payout.PayoutWriter = (*PayoutRepository)(nil)
)
