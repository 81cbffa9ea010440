package workers

import (
	"context"
	"testing"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/PortNumber53/social-scheduler/internal/store/memstore"
)

func TestNotificationCleanup_RunOnce(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	ts := func(d time.Duration) *time.Time { v := now.Add(d); return &v }

	seed := []*models.Notification{
		{ID: "unread", UserID: "u1", Status: models.NotificationUnread, ExpiresAt: ts(24 * time.Hour)},
		{ID: "read-recent", UserID: "u1", Status: models.NotificationRead, ReadAt: ts(-time.Hour)},
		{ID: "read-old", UserID: "u1", Status: models.NotificationRead, ReadAt: ts(-48 * time.Hour)},
		{ID: "expired", UserID: "u1", Status: models.NotificationUnread, ExpiresAt: ts(-time.Minute)},
	}
	for _, n := range seed {
		if err := ms.Notifications.Create(ctx, n); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	w := &NotificationCleanupWorker{Store: ms.Notifications, Now: func() time.Time { return now }}
	deleted, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	left, _ := ms.Notifications.List(ctx, "u1", store.NotificationFilter{})
	if len(left) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(left))
	}
	for _, n := range left {
		if n.ID != "unread" && n.ID != "read-recent" {
			t.Fatalf("unexpected survivor %s", n.ID)
		}
	}
}

func TestNotificationCleanup_StartValidatesSchedule(t *testing.T) {
	ms := memstore.New()
	w := &NotificationCleanupWorker{Store: ms.Notifications, Schedule: "every hour please"}
	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("expected invalid schedule error")
	}

	w = &NotificationCleanupWorker{Store: ms.Notifications, Schedule: "*/15 * * * *"}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	w.Stop()
	w.Stop()
}
