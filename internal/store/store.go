// Package store defines the persistence contracts used by the scheduling pipeline.
// Implementations live in store/postgres (production) and store/memstore (dev, tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
)

var (
	// ErrNotFound is returned when a keyed lookup or update matches no row.
	ErrNotFound = errors.New("not_found")
	// ErrClaimHeld is returned when another publish attempt holds the item's claim.
	ErrClaimHeld = errors.New("publish_claim_held")
	// ErrAlreadyPublished is returned when an operation needs an item that is not yet published.
	ErrAlreadyPublished = errors.New("already_published")
)

// ContentStore persists posts and videos as one schedulable entity.
type ContentStore interface {
	Create(ctx context.Context, item *models.ContentItem) error
	Get(ctx context.Context, id string) (*models.ContentItem, error)

	// HasScheduledBetween reports whether the user has any non-draft item with
	// scheduled_at in [from, to).
	HasScheduledBetween(ctx context.Context, userID string, from, to time.Time) (bool, error)
	// LatestScheduled returns the latest scheduled_at among the user's non-draft items, or nil.
	LatestScheduled(ctx context.Context, userID string) (*time.Time, error)
	// ListDue returns scheduled items with scheduled_at in [from, to]. Items never
	// attempted come first, then the least recently attempted, each oldest first.
	ListDue(ctx context.Context, from, to time.Time, limit int) ([]*models.ContentItem, error)
	// CountOverdue counts scheduled items with scheduled_at before the given time.
	CountOverdue(ctx context.Context, before time.Time) (int, error)

	SetSchedule(ctx context.Context, id string, at time.Time, auto bool) error
	Unschedule(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error

	// Claim marks the item as owned by a publish attempt. Claims older than staleAfter
	// may be taken over. Returns ErrClaimHeld when a live claim exists.
	Claim(ctx context.Context, id, attemptID string, staleAfter time.Duration) error
	// CompletePublish stores the report, sets the terminal status and releases the claim.
	CompletePublish(ctx context.Context, id string, status models.ContentStatus, report *models.PublishReport) error
	// ReleaseClaim drops the claim and leaves status and scheduled_at untouched.
	ReleaseClaim(ctx context.Context, id string) error

	SetCaptionStatus(ctx context.Context, id string, status models.CaptionStatus) error
	SetCaption(ctx context.Context, id, caption string, hashtags []string) error
}

// PreferenceStore persists schedule preferences with one active row per user.
type PreferenceStore interface {
	Active(ctx context.Context, userID string) (*models.SchedulePreference, error)
	// Save deactivates the user's current active preference and stores pref as the active one.
	Save(ctx context.Context, pref *models.SchedulePreference) error
}

// AccountStore exposes connected accounts supplied by the OAuth service.
type AccountStore interface {
	ListActive(ctx context.Context, userID string) ([]*models.ConnectedAccount, error)
}

// NotificationFilter narrows a notification listing.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}

// NotificationStore persists user-facing notifications.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	// FindUnread returns the newest unread notification for (user, type, item), or nil.
	FindUnread(ctx context.Context, userID string, typ models.NotificationType, itemID string) (*models.Notification, error)
	List(ctx context.Context, userID string, f NotificationFilter) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	SetStatus(ctx context.Context, userID string, ids []string, status models.NotificationStatus) (int64, error)
	Delete(ctx context.Context, userID string, ids []string) (int64, error)
	// DeleteExpired removes notifications past expires_at and read ones older than readBefore.
	DeleteExpired(ctx context.Context, now, readBefore time.Time) (int64, error)
}

// WatermarkStore persists the last successful tick of a periodic worker.
type WatermarkStore interface {
	LastTick(ctx context.Context, name string) (*time.Time, error)
	SaveTick(ctx context.Context, name string, at time.Time) error
}

// Stores bundles one implementation of each contract.
type Stores struct {
	Content       ContentStore
	Preferences   PreferenceStore
	Accounts      AccountStore
	Notifications NotificationStore
	Watermarks    WatermarkStore
}
