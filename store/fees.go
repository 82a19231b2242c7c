package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gousddbridge/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AddFeeEntry appends to the fee ledger. Entries are never updated or
// deleted, and at most one entry exists per (ref, kind), so a retried
// close cannot double-record its fee.
func (s *Store) AddFeeEntry(ctx context.Context, e *types.FeeEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fee_entries (id, ref, kind, amount_usdc_units, amount_usdd_units, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ref, kind) DO NOTHING`,
		e.ID, e.Ref, string(e.Kind), e.AmountUSDCUnits, e.AmountUSDDUnits, e.Ts)
	if err != nil {
		return fmt.Errorf("failed to add fee entry: %w", err)
	}
	return nil
}

// FeeTotals rebuilds the fee summary from the ledger. The result is
// cached elsewhere; this is always safe to call.
func (s *Store) FeeTotals(ctx context.Context) (*types.FeeSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, COALESCE(SUM(amount_usdc_units), 0), COALESCE(SUM(amount_usdd_units), 0), COUNT(*)
		FROM fee_entries GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to total fees: %w", err)
	}
	defer rows.Close()

	sum := &types.FeeSummary{
		ByKind:    make(map[types.FeeKind]int64),
		RebuiltAt: time.Now().Unix(),
	}
	for rows.Next() {
		var kind string
		var usdc, usdd, n int64
		if err := rows.Scan(&kind, &usdc, &usdd, &n); err != nil {
			return nil, fmt.Errorf("failed to scan fee total: %w", err)
		}
		sum.TotalUSDCUnits += usdc
		sum.TotalUSDDUnits += usdd
		sum.ByKind[types.FeeKind(kind)] += usdc + usdd
		sum.Entries += n
	}
	return sum, rows.Err()
}

// NextReference atomically hands out the next debit reference. Nexus
// debit references are uint64, so the deposit signature cannot ride
// along; the counter plus the balance reconciler stand in for it.
func (s *Store) NextReference(ctx context.Context) (uint64, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		`UPDATE swap_references SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to advance reference: %w", err)
	}
	return uint64(v), nil
}

// SeedReference raises the counter to at least v, used at startup to
// stay ahead of references already visible on-chain.
func (s *Store) SeedReference(ctx context.Context, v uint64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE swap_references SET value = $1 WHERE id = 1 AND value < $1`, int64(v))
	if err != nil {
		return fmt.Errorf("failed to seed reference: %w", err)
	}
	return nil
}

// LastReference reads without advancing.
func (s *Store) LastReference(ctx context.Context) (uint64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT value FROM swap_references WHERE id = 1`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read reference: %w", err)
	}
	return uint64(v), nil
}
