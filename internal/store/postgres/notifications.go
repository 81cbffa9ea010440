package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/lib/pq"
)

type NotificationStore struct {
	db *sql.DB
}

const notificationColumns = `id, user_id, type, item_id, title, body, priority, status, created_at, read_at, expires_at`

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var typ, priority, status string
	var itemID, body sql.NullString
	var readAt, expiresAt sql.NullTime
	if err := row.Scan(&n.ID, &n.UserID, &typ, &itemID, &n.Title, &body, &priority, &status,
		&n.CreatedAt, &readAt, &expiresAt); err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(typ)
	n.Priority = models.Priority(priority)
	n.Status = models.NotificationStatus(status)
	if itemID.Valid {
		n.ItemID = &itemID.String
	}
	if body.Valid {
		n.Body = &body.String
	}
	n.ReadAt = nullTime(readAt)
	n.ExpiresAt = nullTime(expiresAt)
	return &n, nil
}

func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	var expiresAt sql.NullTime
	if n.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: n.ExpiresAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications
		  (id, user_id, type, item_id, title, body, priority, status, created_at, expires_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.ID, n.UserID, string(n.Type), nullString(n.ItemID), n.Title, nullString(n.Body),
		string(n.Priority), string(n.Status), n.CreatedAt, expiresAt)
	return err
}

func (s *NotificationStore) FindUnread(ctx context.Context, userID string, typ models.NotificationType, itemID string) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		  FROM notifications
		 WHERE user_id = $1
		   AND type = $2
		   AND item_id = $3
		   AND status = 'unread'
		 ORDER BY created_at DESC
		 LIMIT 1
	`, userID, string(typ), itemID)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (s *NotificationStore) List(ctx context.Context, userID string, f store.NotificationFilter) ([]*models.Notification, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		  FROM notifications
		 WHERE user_id = $1
		   AND ($2 = FALSE OR status = 'unread')
		 ORDER BY created_at DESC
		 LIMIT $3
	`, userID, f.UnreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		   SET read_at = COALESCE(read_at, NOW()),
		       status = CASE WHEN status = 'unread' THEN 'read' ELSE status END
		 WHERE id = $1
		   AND user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		   SET read_at = COALESCE(read_at, NOW()),
		       status = 'read'
		 WHERE user_id = $1
		   AND status = 'unread'
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *NotificationStore) SetStatus(ctx context.Context, userID string, ids []string, status models.NotificationStatus) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		   SET status = $3,
		       read_at = CASE WHEN $3 = 'read' THEN COALESCE(read_at, NOW()) ELSE read_at END
		 WHERE user_id = $1
		   AND id = ANY($2)
	`, userID, pq.Array(ids), string(status))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *NotificationStore) Delete(ctx context.Context, userID string, ids []string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications
		 WHERE user_id = $1
		   AND id = ANY($2)
	`, userID, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *NotificationStore) DeleteExpired(ctx context.Context, now, readBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications
		 WHERE (expires_at IS NOT NULL AND expires_at < $1)
		    OR (read_at IS NOT NULL AND read_at < $2)
	`, now.UTC(), readBefore.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
