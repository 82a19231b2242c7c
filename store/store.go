package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistent, transactional system of record. Everything
// the engine needs to survive a restart lives here: open and terminal
// items per direction, reservations, attempt counters, watermark
// proposals and the fee ledger.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS deposits (
		sig TEXT PRIMARY KEY,
		ts_found BIGINT NOT NULL,
		from_account TEXT NOT NULL DEFAULT '',
		amount_units BIGINT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		dest_account TEXT NOT NULL DEFAULT '',
		debit_txid TEXT NOT NULL DEFAULT '',
		refund_sig TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS deposits_terminal (
		sig TEXT PRIMARY KEY,
		ts_found BIGINT NOT NULL,
		ts_closed BIGINT NOT NULL,
		from_account TEXT NOT NULL DEFAULT '',
		amount_units BIGINT NOT NULL DEFAULT 0,
		memo TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		debit_txid TEXT NOT NULL DEFAULT '',
		refund_sig TEXT NOT NULL DEFAULT '',
		moved_units BIGINT NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS credits (
		txid TEXT PRIMARY KEY,
		ts_found BIGINT NOT NULL,
		from_account TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		amount_units BIGINT NOT NULL,
		status TEXT NOT NULL,
		dest_address TEXT NOT NULL DEFAULT '',
		send_sig TEXT NOT NULL DEFAULT '',
		ts_submitted BIGINT NOT NULL DEFAULT 0,
		refund_txid TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS credits_terminal (
		txid TEXT PRIMARY KEY,
		ts_found BIGINT NOT NULL,
		ts_closed BIGINT NOT NULL,
		from_account TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		amount_units BIGINT NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		send_sig TEXT NOT NULL DEFAULT '',
		refund_txid TEXT NOT NULL DEFAULT '',
		moved_units BIGINT NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		expires_at BIGINT NOT NULL,
		PRIMARY KEY (kind, key)
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		key TEXT PRIMARY KEY,
		count INT NOT NULL,
		last_ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS watermark_proposals (
		chain TEXT PRIMARY KEY,
		proposed_ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS watermarks (
		chain TEXT PRIMARY KEY,
		committed_ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fee_entries (
		id TEXT PRIMARY KEY,
		ref TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount_usdc_units BIGINT NOT NULL DEFAULT 0,
		amount_usdd_units BIGINT NOT NULL DEFAULT 0,
		ts BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS fee_entries_ref_kind ON fee_entries (ref, kind)`,
	`CREATE TABLE IF NOT EXISTS swap_references (
		id INT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS deposits_status_ts ON deposits (status, ts_found)`,
	`CREATE INDEX IF NOT EXISTS credits_status_ts ON credits (status, ts_found)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO swap_references (id, value) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to seed reference row: %w", err)
	}
	return nil
}
