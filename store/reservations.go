package store

import (
	"context"
	"fmt"

	"gousddbridge/types"
)

// AcquireReservation takes a short-lived exclusive lock on (kind, key).
// It is a single conditional upsert, so under the database's isolation
// exactly one of two concurrent callers wins. A lapsed reservation
// (crashed holder) is taken over once its expiry passes.
func (s *Store) AcquireReservation(ctx context.Context, kind types.ItemKind, key string, ttlSec, now int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO reservations (kind, key, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (kind, key) DO UPDATE SET expires_at = $3
		WHERE reservations.expires_at <= $4`,
		kind.String(), key, now+ttlSec, now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire reservation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReleaseReservation(ctx context.Context, kind types.ItemKind, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM reservations WHERE kind = $1 AND key = $2`,
		kind.String(), key)
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	return nil
}

// SweepReservations removes expired rows, bounding the leak from
// crashed holders.
func (s *Store) SweepReservations(ctx context.Context, now int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reservations WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}
