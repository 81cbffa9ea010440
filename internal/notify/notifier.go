// Package notify turns pipeline outcomes into user-facing notifications and serves
// the notification read model.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/metrics"
	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/realtime"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrMissingUser    = errors.New("missing_user_id")
	ErrMissingType    = errors.New("missing_notification_type")
	ErrInvalidAction  = errors.New("invalid_bulk_action")
	ErrEmptySelection = errors.New("empty_selection")
)

// Event describes something the user should hear about.
type Event struct {
	Type   models.NotificationType
	ItemID string
	Title  string // defaults per type when empty
	Body   string
}

type Notifier struct {
	store   store.NotificationStore
	emitter realtime.Emitter
	metrics metrics.Recorder
	log     logrus.FieldLogger
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
}

type Option func(*Notifier)

func WithTTL(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.ttl = d
		}
	}
}

func WithEmitter(e realtime.Emitter) Option {
	return func(n *Notifier) {
		if e != nil {
			n.emitter = e
		}
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(n *Notifier) { n.metrics = metrics.OrNop(m) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(n *Notifier) { n.log = logging.OrDiscard(l) }
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

func New(s store.NotificationStore, opts ...Option) *Notifier {
	n := &Notifier{
		store:   s,
		emitter: realtime.Nop{},
		metrics: metrics.Nop{},
		log:     logging.Discard(),
		ttl:     DefaultTTL,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// PriorityFor maps a notification type to its fixed priority.
func PriorityFor(t models.NotificationType) models.Priority {
	switch t {
	case models.NotifyPostFailed, models.NotifyNoConnectedAccounts:
		return models.PriorityHigh
	case models.NotifyPostPartiallyPublished, models.NotifyCaptionFailed, models.NotifySlotUnavailable:
		return models.PriorityMedium
	case models.NotifyPostPublished, models.NotifyPostScheduled:
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}

func defaultTitle(t models.NotificationType) string {
	switch t {
	case models.NotifyPostScheduled:
		return "Post scheduled"
	case models.NotifyPostPublished:
		return "Post published"
	case models.NotifyPostPartiallyPublished:
		return "Post partially published"
	case models.NotifyPostFailed:
		return "Post failed to publish"
	case models.NotifyNoConnectedAccounts:
		return "No connected accounts"
	case models.NotifyCaptionFailed:
		return "Caption generation failed"
	case models.NotifySlotUnavailable:
		return "No schedule slot available"
	default:
		return strings.ReplaceAll(string(t), "_", " ")
	}
}

// Notify records ev for the user. When an unread notification of the same type for the
// same item already exists, that one is returned and nothing new is written.
func (n *Notifier) Notify(ctx context.Context, userID string, ev Event) (*models.Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}
	if ev.Type == "" {
		return nil, ErrMissingType
	}
	log := n.log.WithFields(logrus.Fields{"userId": userID, "type": ev.Type, "itemId": ev.ItemID})

	if ev.ItemID != "" {
		existing, err := n.store.FindUnread(ctx, userID, ev.Type, ev.ItemID)
		if err != nil {
			return nil, fmt.Errorf("lookup unread notification: %w", err)
		}
		if existing != nil {
			log.WithField("notificationId", existing.ID).Debug("[Notifier] deduped")
			n.metrics.NotificationCreated(string(ev.Type), true)
			return existing, nil
		}
	}

	now := n.now().UTC()
	expires := now.Add(n.ttl)
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = defaultTitle(ev.Type)
	}
	rec := &models.Notification{
		ID:        n.newID(),
		UserID:    userID,
		Type:      ev.Type,
		Title:     title,
		Priority:  PriorityFor(ev.Type),
		Status:    models.NotificationUnread,
		CreatedAt: now,
		ExpiresAt: &expires,
	}
	if ev.ItemID != "" {
		item := ev.ItemID
		rec.ItemID = &item
	}
	if body := strings.TrimSpace(ev.Body); body != "" {
		rec.Body = &body
	}
	if err := n.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	log.WithFields(logrus.Fields{"notificationId": rec.ID, "priority": rec.Priority}).Info("[Notifier] created")
	n.metrics.NotificationCreated(string(ev.Type), false)
	n.emitter.Emit(userID, realtime.Event{
		Type:           realtime.EventNotificationCreated,
		ItemID:         ev.ItemID,
		NotificationID: rec.ID,
		Status:         string(rec.Priority),
		Payload:        rec,
	})
	return rec, nil
}
