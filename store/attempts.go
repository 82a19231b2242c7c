package store

import (
	"context"
	"errors"
	"fmt"

	"gousddbridge/types"

	"github.com/jackc/pgx/v5"
)

// ShouldAttempt reports whether the action behind key may run: both
// the attempt bound and the cooldown window are enforced together.
// Check and record are separate statements by contract; callers hold
// the item reservation across both, so the worst case race is a single
// extra attempt.
func (s *Store) ShouldAttempt(ctx context.Context, key string, maxAttempts int, cooldownSec, now int64) (bool, error) {
	var rec types.AttemptRecord
	err := s.pool.QueryRow(ctx, `SELECT key, count, last_ts FROM attempts WHERE key = $1`, key).
		Scan(&rec.Key, &rec.Count, &rec.LastTs)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read attempt record: %w", err)
	}
	return rec.MayProceed(now, maxAttempts, cooldownSec), nil
}

func (s *Store) RecordAttempt(ctx context.Context, key string, now int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attempts (key, count, last_ts) VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET count = attempts.count + 1, last_ts = $2`,
		key, now)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ResetAttempts clears governor state once an action terminally
// succeeded.
func (s *Store) ResetAttempts(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM attempts WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}

// AttemptCount is used by the exhaustion checks that escalate an item
// to its fallback path.
func (s *Store) AttemptCount(ctx context.Context, key string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count FROM attempts WHERE key = $1`, key).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempt count: %w", err)
	}
	return count, nil
}
