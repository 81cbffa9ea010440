package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type WatermarkStore struct {
	db *sql.DB
}

func (s *WatermarkStore) LastTick(ctx context.Context, name string) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_tick_at FROM scheduler_watermarks WHERE name = $1
	`, name).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

func (s *WatermarkStore) SaveTick(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_watermarks (name, last_tick_at)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET last_tick_at = EXCLUDED.last_tick_at
	`, name, at.UTC())
	return err
}
