package store

import (
	"context"
	"errors"
	"fmt"

	"gousddbridge/types"

	"github.com/jackc/pgx/v5"
)

// Advance is the monotonic clamp: a committed watermark never moves
// backwards, a smaller proposal is clamped to the committed value
// instead of applied.
func Advance(committed, proposed int64) int64 {
	if proposed < committed {
		return committed
	}
	return proposed
}

// ProposeWatermark records the cheap internal proposal for a chain.
// Proposals are applied only by CommitWatermarks.
func (s *Store) ProposeWatermark(ctx context.Context, chain types.ChainKey, ts int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watermark_proposals (chain, proposed_ts) VALUES ($1, $2)
		ON CONFLICT (chain) DO UPDATE SET proposed_ts = $2`,
		string(chain), ts)
	if err != nil {
		return fmt.Errorf("failed to propose watermark: %w", err)
	}
	return nil
}

func (s *Store) CommittedWatermark(ctx context.Context, chain types.ChainKey) (int64, error) {
	var ts int64
	err := s.pool.QueryRow(ctx, `SELECT committed_ts FROM watermarks WHERE chain = $1`,
		string(chain)).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	return ts, nil
}

// CommitWatermarks advances every chain with a pending proposal,
// clamped against the committed value, and clears the proposals, all
// in one transaction. A crash between propose and commit therefore
// never regresses the published recovery boundary. The returned map
// holds the values to publish on-chain.
func (s *Store) CommitWatermarks(ctx context.Context) (map[types.ChainKey]int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin watermark commit: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT chain, proposed_ts FROM watermark_proposals`)
	if err != nil {
		return nil, fmt.Errorf("failed to read proposals: %w", err)
	}
	proposals := make(map[types.ChainKey]int64)
	for rows.Next() {
		var chain string
		var ts int64
		if err := rows.Scan(&chain, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals[types.ChainKey(chain)] = ts
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	committed := make(map[types.ChainKey]int64, len(proposals))
	for chain, proposed := range proposals {
		var prev int64
		err := tx.QueryRow(ctx, `SELECT committed_ts FROM watermarks WHERE chain = $1`,
			string(chain)).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to read committed watermark: %w", err)
		}
		next := Advance(prev, proposed)
		_, err = tx.Exec(ctx, `
			INSERT INTO watermarks (chain, committed_ts) VALUES ($1, $2)
			ON CONFLICT (chain) DO UPDATE SET committed_ts = $2`,
			string(chain), next)
		if err != nil {
			return nil, fmt.Errorf("failed to commit watermark: %w", err)
		}
		committed[chain] = next
	}

	if _, err := tx.Exec(ctx, `DELETE FROM watermark_proposals`); err != nil {
		return nil, fmt.Errorf("failed to clear proposals: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit watermark tx: %w", err)
	}
	return committed, nil
}
