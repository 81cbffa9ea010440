package notify

import (
	"context"
	"strings"

	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/store"
)

// BulkAction is applied to a selection of notifications.
type BulkAction string

const (
	ActionRead    BulkAction = "read"
	ActionArchive BulkAction = "archived"
	ActionDelete  BulkAction = "deleted"
)

func (n *Notifier) List(ctx context.Context, userID string, f store.NotificationFilter) ([]*models.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUser
	}
	return n.store.List(ctx, userID, f)
}

func (n *Notifier) MarkRead(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUser
	}
	return n.store.MarkRead(ctx, userID, id)
}

func (n *Notifier) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrMissingUser
	}
	return n.store.MarkAllRead(ctx, userID)
}

// BulkUpdate applies action to the user's notifications in ids and returns how many changed.
func (n *Notifier) BulkUpdate(ctx context.Context, userID string, ids []string, action BulkAction) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrMissingUser
	}
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return 0, ErrEmptySelection
	}
	switch action {
	case ActionRead:
		return n.store.SetStatus(ctx, userID, clean, models.NotificationRead)
	case ActionArchive:
		return n.store.SetStatus(ctx, userID, clean, models.NotificationArchived)
	case ActionDelete:
		return n.store.Delete(ctx, userID, clean)
	default:
		return 0, ErrInvalidAction
	}
}
