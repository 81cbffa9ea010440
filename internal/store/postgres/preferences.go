package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/lib/pq"
)

const customDateLayout = "2006-01-02"

type PreferenceStore struct {
	db *sql.DB
}

func (s *PreferenceStore) Active(ctx context.Context, userID string) (*models.SchedulePreference, error) {
	var p models.SchedulePreference
	var cadence string
	var weekdays []int64
	var dates []string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, cadence, time_of_day, weekdays, custom_dates, timezone,
		       is_active, created_at, updated_at
		  FROM schedule_preferences
		 WHERE user_id = $1
		   AND is_active
		 LIMIT 1
	`, userID).Scan(&p.ID, &p.UserID, &cadence, &p.TimeOfDay, pq.Array(&weekdays), pq.Array(&dates),
		&p.Timezone, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Cadence = models.Cadence(cadence)
	for _, d := range weekdays {
		p.Weekdays = append(p.Weekdays, time.Weekday(d))
	}
	for _, d := range dates {
		t, err := time.Parse(customDateLayout, d)
		if err != nil {
			return nil, fmt.Errorf("decode custom date %q: %w", d, err)
		}
		p.CustomDates = append(p.CustomDates, t)
	}
	return &p, nil
}

// Save replaces the user's active preference inside one transaction so the partial
// unique index on (user_id) WHERE is_active never sees two active rows.
func (s *PreferenceStore) Save(ctx context.Context, pref *models.SchedulePreference) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE schedule_preferences
		   SET is_active = FALSE,
		       updated_at = NOW()
		 WHERE user_id = $1
		   AND is_active
	`, pref.UserID); err != nil {
		return fmt.Errorf("deactivate preference: %w", err)
	}

	weekdays := make([]int64, 0, len(pref.Weekdays))
	for _, d := range pref.Weekdays {
		weekdays = append(weekdays, int64(d))
	}
	dates := make([]string, 0, len(pref.CustomDates))
	for _, d := range pref.CustomDates {
		dates = append(dates, d.Format(customDateLayout))
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schedule_preferences
		  (id, user_id, cadence, time_of_day, weekdays, custom_dates, timezone, is_active, created_at, updated_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)
	`, pref.ID, pref.UserID, string(pref.Cadence), pref.TimeOfDay,
		pq.Array(weekdays), pq.Array(dates), pref.Timezone, now); err != nil {
		return fmt.Errorf("insert preference: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	pref.IsActive = true
	pref.CreatedAt = now
	pref.UpdatedAt = now
	return nil
}
