package store

import (
	"context"
	"errors"
	"fmt"

	"gousddbridge/types"

	"github.com/jackc/pgx/v5"
)

// InsertCredit records a newly detected treasury credit. Idempotent in
// the same way as InsertDeposit.
func (s *Store) InsertCredit(ctx context.Context, c *types.Credit) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO credits (txid, ts_found, from_account, owner_id, amount_units, status, dest_address, send_sig, ts_submitted, refund_txid, message)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE NOT EXISTS (SELECT 1 FROM credits_terminal WHERE txid = $1)
		ON CONFLICT (txid) DO NOTHING`,
		c.TxID, c.TsFound, c.FromAccount, c.OwnerID, c.AmountUnits, string(c.Status),
		c.DestAddress, c.SendSig, c.TsSubmitted, c.RefundTxID, c.Message)
	if err != nil {
		return false, fmt.Errorf("failed to insert credit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetCredit(ctx context.Context, txid string) (*types.Credit, error) {
	var c types.Credit
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT txid, ts_found, from_account, owner_id, amount_units, status, dest_address, send_sig, ts_submitted, refund_txid, message
		FROM credits WHERE txid = $1`, txid).Scan(
		&c.TxID, &c.TsFound, &c.FromAccount, &c.OwnerID, &c.AmountUnits, &status,
		&c.DestAddress, &c.SendSig, &c.TsSubmitted, &c.RefundTxID, &c.Message)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit: %w", err)
	}
	c.Status = types.CreditStatus(status)
	return &c, nil
}

func (s *Store) CreditsByStatus(ctx context.Context, status types.CreditStatus, limit int) ([]types.Credit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT txid, ts_found, from_account, owner_id, amount_units, status, dest_address, send_sig, ts_submitted, refund_txid, message
		FROM credits WHERE status = $1 ORDER BY ts_found ASC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	defer rows.Close()

	var out []types.Credit
	for rows.Next() {
		var c types.Credit
		var st string
		if err := rows.Scan(&c.TxID, &c.TsFound, &c.FromAccount, &c.OwnerID, &c.AmountUnits, &st,
			&c.DestAddress, &c.SendSig, &c.TsSubmitted, &c.RefundTxID, &c.Message); err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		c.Status = types.CreditStatus(st)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCredit(ctx context.Context, c *types.Credit) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE credits SET status = $2, dest_address = $3, send_sig = $4, ts_submitted = $5, refund_txid = $6, message = $7
		WHERE txid = $1`,
		c.TxID, string(c.Status), c.DestAddress, c.SendSig, c.TsSubmitted, c.RefundTxID, c.Message)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	return nil
}

func (s *Store) CloseCredit(ctx context.Context, c *types.Credit, outcome types.Outcome, movedUnits int64, now int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin close: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO credits_terminal (txid, ts_found, ts_closed, from_account, owner_id, amount_units, outcome, send_sig, refund_txid, moved_units, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (txid) DO NOTHING`,
		c.TxID, c.TsFound, now, c.FromAccount, c.OwnerID, c.AmountUnits, string(outcome),
		c.SendSig, c.RefundTxID, movedUnits, c.Message)
	if err != nil {
		return fmt.Errorf("failed to insert terminal credit: %w", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM credits WHERE txid = $1`, c.TxID); err != nil {
		return fmt.Errorf("failed to delete open credit: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) CreditClosed(ctx context.Context, txid string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM credits_terminal WHERE txid = $1`, txid).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check terminal credit: %w", err)
	}
	return true, nil
}

// InsertCreditMarker writes a terminal marker reconstructed from an
// on-chain idempotency memo during startup recovery.
func (s *Store) InsertCreditMarker(ctx context.Context, txid string, outcome types.Outcome, sendSig string, now int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO credits_terminal (txid, ts_found, ts_closed, outcome, send_sig, message)
		VALUES ($1, $2, $2, $3, $4, 'rebuilt from chain memo')
		ON CONFLICT (txid) DO NOTHING`,
		txid, now, string(outcome), sendSig)
	if err != nil {
		return false, fmt.Errorf("failed to insert credit marker: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) OldestOpenCreditTs(ctx context.Context) (int64, error) {
	var ts int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MIN(ts_found), 0) FROM credits`).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to query oldest open credit: %w", err)
	}
	return ts, nil
}

// StatusCounts feeds the operator /state endpoint.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, q := range []struct {
		query  string
		prefix string
	}{
		{`SELECT status, COUNT(*) FROM deposits GROUP BY status`, "deposit:"},
		{`SELECT outcome, COUNT(*) FROM deposits_terminal GROUP BY outcome`, "deposit:"},
		{`SELECT status, COUNT(*) FROM credits GROUP BY status`, "credit:"},
		{`SELECT outcome, COUNT(*) FROM credits_terminal GROUP BY outcome`, "credit:"},
	} {
		rows, err := s.pool.Query(ctx, q.query)
		if err != nil {
			return nil, fmt.Errorf("failed to count statuses: %w", err)
		}
		for rows.Next() {
			var st string
			var n int64
			if err := rows.Scan(&st, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan status count: %w", err)
			}
			counts[q.prefix+st] += n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// QuarantineView lists value that could not be returned automatically:
// quarantined terminals plus the terminal-stuck open states.
type QuarantineRow struct {
	Kind        string `json:"kind"`
	Ref         string `json:"ref"`
	AmountUnits int64  `json:"amount_units"`
	MovedUnits  int64  `json:"moved_units"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

func (s *Store) QuarantineView(ctx context.Context, limit int) ([]QuarantineRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT 'solana_deposit', sig, amount_units, moved_units, outcome, message FROM deposits_terminal WHERE outcome = 'quarantined'
		UNION ALL
		SELECT 'solana_deposit', sig, amount_units, 0, status, message FROM deposits WHERE status = 'quarantine_failed'
		UNION ALL
		SELECT 'nexus_credit', txid, amount_units, moved_units, outcome, message FROM credits_terminal WHERE outcome = 'quarantined'
		UNION ALL
		SELECT 'nexus_credit', txid, amount_units, 0, status, message FROM credits WHERE status = 'needs_reconciliation'
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarantine view: %w", err)
	}
	defer rows.Close()

	var out []QuarantineRow
	for rows.Next() {
		var r QuarantineRow
		if err := rows.Scan(&r.Kind, &r.Ref, &r.AmountUnits, &r.MovedUnits, &r.Status, &r.Message); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
