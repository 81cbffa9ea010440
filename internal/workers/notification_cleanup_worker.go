package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const DefaultCleanupSchedule = "@every 1h"

// NotificationCleanupWorker removes expired notifications and read notifications older
// than the retention period.
type NotificationCleanupWorker struct {
	Store         store.NotificationStore
	Schedule      string        // cron spec or descriptor (default: "@every 1h")
	ReadRetention time.Duration // how long to keep read notifications (default: 24h)
	Location      *time.Location
	Logger        logrus.FieldLogger
	Now           func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

func (w *NotificationCleanupWorker) defaults() {
	if w.Schedule == "" {
		w.Schedule = DefaultCleanupSchedule
	}
	if w.ReadRetention <= 0 {
		w.ReadRetention = 24 * time.Hour
	}
	if w.Location == nil {
		w.Location = time.UTC
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	w.Logger = logging.OrDiscard(w.Logger)
}

// Start registers the cleanup job and starts the cron runner. An invalid schedule is
// reported here rather than at the first tick.
func (w *NotificationCleanupWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.c != nil {
		return nil
	}
	w.defaults()

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(w.Location))
	if _, err := c.AddFunc(w.Schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.RunOnce(ctx); err != nil {
			w.Logger.WithError(err).Error("[NotificationCleanupWorker] error")
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", w.Schedule, err)
	}
	c.Start()
	w.c = c
	w.Logger.WithFields(logrus.Fields{
		"schedule": w.Schedule, "retention": w.ReadRetention.String(),
	}).Info("[NotificationCleanupWorker] started")
	return nil
}

// Stop halts the cron runner and waits for a running cleanup to return.
func (w *NotificationCleanupWorker) Stop() {
	w.mu.Lock()
	c := w.c
	w.c = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	w.Logger.Info("[NotificationCleanupWorker] stopped")
}

// RunOnce deletes what is due for removal at the current time and returns the count.
func (w *NotificationCleanupWorker) RunOnce(ctx context.Context) (int64, error) {
	w.mu.Lock()
	w.defaults()
	w.mu.Unlock()

	now := w.Now().UTC()
	deleted, err := w.Store.DeleteExpired(ctx, now, now.Add(-w.ReadRetention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		w.Logger.WithField("deleted", deleted).Info("[NotificationCleanupWorker] deleted old notifications")
	}
	return deleted, nil
}
