// Package postgres implements the store contracts on Postgres via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/lib/pq"
)

// New wires every Postgres-backed store onto one handle.
func New(db *sql.DB) store.Stores {
	return store.Stores{
		Content:       &ContentStore{db: db},
		Preferences:   &PreferenceStore{db: db},
		Accounts:      &AccountStore{db: db},
		Notifications: &NotificationStore{db: db},
		Watermarks:    &WatermarkStore{db: db},
	}
}

type ContentStore struct {
	db *sql.DB
}

const contentColumns = `id, user_id, kind, media_refs, caption, hashtags, platforms, status,
	scheduled_at, auto_scheduled, caption_status, publish_report, published_at,
	last_publish_attempt_id, last_publish_attempt_at, deleted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (*models.ContentItem, error) {
	var c models.ContentItem
	var kind, status, captionStatus string
	var scheduledAt, publishedAt, attemptAt, deletedAt sql.NullTime
	var attemptID sql.NullString
	var report []byte
	if err := row.Scan(
		&c.ID, &c.UserID, &kind,
		pq.Array(&c.MediaRefs), &c.Caption, pq.Array(&c.Hashtags), pq.Array(&c.Platforms),
		&status, &scheduledAt, &c.AutoScheduled, &captionStatus, &report, &publishedAt,
		&attemptID, &attemptAt, &deletedAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Kind = models.ContentKind(kind)
	c.Status = models.ContentStatus(status)
	c.CaptionStatus = models.CaptionStatus(captionStatus)
	c.ScheduledAt = nullTime(scheduledAt)
	c.PublishedAt = nullTime(publishedAt)
	c.LastPublishAttemptAt = nullTime(attemptAt)
	c.DeletedAt = nullTime(deletedAt)
	if attemptID.Valid {
		c.LastPublishAttemptID = &attemptID.String
	}
	if len(report) > 0 {
		var r models.PublishReport
		if err := json.Unmarshal(report, &r); err != nil {
			return nil, fmt.Errorf("decode publish_report item=%s: %w", c.ID, err)
		}
		c.PublishReport = &r
	}
	return &c, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (s *ContentStore) Create(ctx context.Context, item *models.ContentItem) error {
	var scheduledAt sql.NullTime
	if item.ScheduledAt != nil {
		scheduledAt = sql.NullTime{Time: item.ScheduledAt.UTC(), Valid: true}
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_items
		  (id, user_id, kind, media_refs, caption, hashtags, platforms, status,
		   scheduled_at, auto_scheduled, caption_status, created_at, updated_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, item.ID, item.UserID, string(item.Kind),
		pq.Array(item.MediaRefs), item.Caption, pq.Array(item.Hashtags), pq.Array(item.Platforms),
		string(item.Status), scheduledAt, item.AutoScheduled, string(item.CaptionStatus), now)
	if err != nil {
		return fmt.Errorf("insert content item: %w", err)
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

func (s *ContentStore) Get(ctx context.Context, id string) (*models.ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+`
		  FROM content_items
		 WHERE id = $1
		   AND deleted_at IS NULL
	`, id)
	c, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ContentStore) HasScheduledBetween(ctx context.Context, userID string, from, to time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			  FROM content_items
			 WHERE user_id = $1
			   AND deleted_at IS NULL
			   AND status <> 'draft'
			   AND scheduled_at >= $2
			   AND scheduled_at < $3
		)
	`, userID, from.UTC(), to.UTC()).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *ContentStore) LatestScheduled(ctx context.Context, userID string) (*time.Time, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(scheduled_at)
		  FROM content_items
		 WHERE user_id = $1
		   AND deleted_at IS NULL
		   AND status <> 'draft'
	`, userID).Scan(&latest)
	if err != nil {
		return nil, err
	}
	return nullTime(latest), nil
}

func (s *ContentStore) ListDue(ctx context.Context, from, to time.Time, limit int) ([]*models.ContentItem, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentColumns+`
		  FROM content_items
		 WHERE status = 'scheduled'
		   AND deleted_at IS NULL
		   AND scheduled_at IS NOT NULL
		   AND scheduled_at >= $1
		   AND scheduled_at <= $2
		 ORDER BY last_publish_attempt_at ASC NULLS FIRST, scheduled_at ASC
		 LIMIT $3
	`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.ContentItem, 0)
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ContentStore) CountOverdue(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		  FROM content_items
		 WHERE status = 'scheduled'
		   AND deleted_at IS NULL
		   AND scheduled_at < $1
	`, before.UTC()).Scan(&n)
	return n, err
}

// execOne runs a single-row update and maps "no row matched" to ErrNotFound.
func (s *ContentStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ContentStore) SetSchedule(ctx context.Context, id string, at time.Time, auto bool) error {
	return s.execOne(ctx, `
		UPDATE content_items
		   SET status = 'scheduled',
		       scheduled_at = $2,
		       auto_scheduled = $3,
		       updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
		   AND status <> 'published'
	`, id, at.UTC(), auto)
}

func (s *ContentStore) Unschedule(ctx context.Context, id string) error {
	return s.execOne(ctx, `
		UPDATE content_items
		   SET status = 'draft',
		       scheduled_at = NULL,
		       auto_scheduled = FALSE,
		       updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
		   AND status <> 'published'
	`, id)
}

func (s *ContentStore) SoftDelete(ctx context.Context, id string) error {
	return s.execOne(ctx, `
		UPDATE content_items
		   SET deleted_at = NOW(),
		       updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
	`, id)
}

func (s *ContentStore) Claim(ctx context.Context, id, attemptID string, staleAfter time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_items
		   SET last_publish_attempt_id = $2,
		       last_publish_attempt_at = NOW(),
		       updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
		   AND status <> 'published'
		   AND (last_publish_attempt_id IS NULL OR last_publish_attempt_at < $3)
	`, id, attemptID, time.Now().UTC().Add(-staleAfter))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM content_items WHERE id = $1 AND deleted_at IS NULL)
	`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrClaimHeld
}

func (s *ContentStore) CompletePublish(ctx context.Context, id string, status models.ContentStatus, report *models.PublishReport) error {
	var reportJSON []byte
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("encode publish_report: %w", err)
		}
		reportJSON = b
	}
	published := status == models.StatusPublished
	// Only a draft loses its date; scheduled and published keep scheduled_at.
	return s.execOne(ctx, `
		UPDATE content_items
		   SET status = $2,
		       publish_report = COALESCE($3::jsonb, publish_report),
		       published_at = CASE WHEN $4 THEN NOW() ELSE published_at END,
		       scheduled_at = CASE WHEN $2 = 'draft' THEN NULL ELSE scheduled_at END,
		       auto_scheduled = CASE WHEN $2 = 'draft' THEN FALSE ELSE auto_scheduled END,
		       last_publish_attempt_id = NULL,
		       updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
	`, id, string(status), nullJSON(reportJSON), published)
}

func (s *ContentStore) ReleaseClaim(ctx context.Context, id string) error {
	return s.execOne(ctx, `
		UPDATE content_items
		   SET last_publish_attempt_id = NULL,
		       updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
	`, id)
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *ContentStore) SetCaptionStatus(ctx context.Context, id string, status models.CaptionStatus) error {
	return s.execOne(ctx, `
		UPDATE content_items
		   SET caption_status = $2,
		       updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
	`, id, string(status))
}

func (s *ContentStore) SetCaption(ctx context.Context, id, caption string, hashtags []string) error {
	return s.execOne(ctx, `
		UPDATE content_items
		   SET caption = $2,
		       hashtags = $3,
		       caption_status = 'completed',
		       updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
	`, id, caption, pq.Array(hashtags))
}
