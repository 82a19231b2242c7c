package store

import (
	"context"
	"errors"
	"fmt"

	"gousddbridge/types"

	"github.com/jackc/pgx/v5"
)

// InsertDeposit records a newly detected deposit. The insert is
// idempotent: re-detecting a signature that is already open or already
// terminal is a no-op and returns false.
func (s *Store) InsertDeposit(ctx context.Context, d *types.Deposit) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO deposits (sig, ts_found, from_account, amount_units, memo, status, dest_account, debit_txid, refund_sig, message)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE NOT EXISTS (SELECT 1 FROM deposits_terminal WHERE sig = $1)
		ON CONFLICT (sig) DO NOTHING`,
		d.Sig, d.TsFound, d.FromAccount, d.AmountUnits, d.Memo, string(d.Status),
		d.DestAccount, d.DebitTxID, d.RefundSig, d.Message)
	if err != nil {
		return false, fmt.Errorf("failed to insert deposit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetDeposit returns nil without error when the signature is not open.
func (s *Store) GetDeposit(ctx context.Context, sig string) (*types.Deposit, error) {
	var d types.Deposit
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT sig, ts_found, from_account, amount_units, memo, status, dest_account, debit_txid, refund_sig, message
		FROM deposits WHERE sig = $1`, sig).Scan(
		&d.Sig, &d.TsFound, &d.FromAccount, &d.AmountUnits, &d.Memo, &status,
		&d.DestAccount, &d.DebitTxID, &d.RefundSig, &d.Message)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	d.Status = types.DepositStatus(status)
	return &d, nil
}

// DepositsByStatus returns open deposits oldest first, so worst-case
// confirmation latency stays bounded.
func (s *Store) DepositsByStatus(ctx context.Context, status types.DepositStatus, limit int) ([]types.Deposit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sig, ts_found, from_account, amount_units, memo, status, dest_account, debit_txid, refund_sig, message
		FROM deposits WHERE status = $1 ORDER BY ts_found ASC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposits: %w", err)
	}
	defer rows.Close()

	var out []types.Deposit
	for rows.Next() {
		var d types.Deposit
		var st string
		if err := rows.Scan(&d.Sig, &d.TsFound, &d.FromAccount, &d.AmountUnits, &d.Memo, &st,
			&d.DestAccount, &d.DebitTxID, &d.RefundSig, &d.Message); err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		d.Status = types.DepositStatus(st)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDeposit(ctx context.Context, d *types.Deposit) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deposits SET status = $2, dest_account = $3, debit_txid = $4, refund_sig = $5, message = $6
		WHERE sig = $1`,
		d.Sig, string(d.Status), d.DestAccount, d.DebitTxID, d.RefundSig, d.Message)
	if err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}
	return nil
}

// CloseDeposit moves an open deposit to the terminal table in a single
// transaction. movedUnits is what actually left the vault (net refund
// or quarantine amount, 0 for fee_only).
func (s *Store) CloseDeposit(ctx context.Context, d *types.Deposit, outcome types.Outcome, movedUnits int64, now int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin close: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO deposits_terminal (sig, ts_found, ts_closed, from_account, amount_units, memo, outcome, debit_txid, refund_sig, moved_units, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (sig) DO NOTHING`,
		d.Sig, d.TsFound, now, d.FromAccount, d.AmountUnits, d.Memo, string(outcome),
		d.DebitTxID, d.RefundSig, movedUnits, d.Message)
	if err != nil {
		return fmt.Errorf("failed to insert terminal deposit: %w", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM deposits WHERE sig = $1`, d.Sig); err != nil {
		return fmt.Errorf("failed to delete open deposit: %w", err)
	}
	return tx.Commit(ctx)
}

// DepositClosed reports whether the signature already has a terminal
// outcome; re-detection after that must produce nothing.
func (s *Store) DepositClosed(ctx context.Context, sig string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM deposits_terminal WHERE sig = $1`, sig).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check terminal deposit: %w", err)
	}
	return true, nil
}

// InsertDepositMarker writes a terminal marker reconstructed from
// on-chain memos during startup recovery. Additive and idempotent.
func (s *Store) InsertDepositMarker(ctx context.Context, sig string, outcome types.Outcome, refundSig string, now int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO deposits_terminal (sig, ts_found, ts_closed, outcome, refund_sig, message)
		VALUES ($1, $2, $2, $3, $4, 'rebuilt from chain memo')
		ON CONFLICT (sig) DO NOTHING`,
		sig, now, string(outcome), refundSig)
	if err != nil {
		return false, fmt.Errorf("failed to insert deposit marker: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// OldestOpenDepositTs returns 0 when no deposits are open.
func (s *Store) OldestOpenDepositTs(ctx context.Context) (int64, error) {
	var ts int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MIN(ts_found), 0) FROM deposits`).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to query oldest open deposit: %w", err)
	}
	return ts, nil
}
