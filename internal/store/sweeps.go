package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LastSweep returns when an eviction sweep last completed for collection,
// or the zero time if none has.
//
// Sweeps are rate limited across processes, so this is the one place the
// store records wall time.
func (s *Store) LastSweep(ctx context.Context, collection string) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT last_unix_ms FROM sweeps WHERE collection = ?`, collection).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read last sweep: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// RecordSweep stores the completion time of a sweep.
func (s *Store) RecordSweep(ctx context.Context, collection string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweeps (collection, last_unix_ms) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET last_unix_ms = excluded.last_unix_ms
	`, collection, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record sweep: %w", err)
	}
	return nil
}
