package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/PortNumber53/social-scheduler/internal/store/memstore"
)

type fakeCaptions struct {
	jobs   []string
	reject bool
}

func (f *fakeCaptions) EnqueueCaption(itemID, _, mediaRef string) bool {
	if f.reject {
		return false
	}
	f.jobs = append(f.jobs, itemID+"|"+mediaRef)
	return true
}

func newTestService(t *testing.T, now time.Time) (*Service, *memstore.Store, *fakeCaptions) {
	t.Helper()
	ms := memstore.New()
	caps := &fakeCaptions{}
	clock := fixedClock(now)
	svc := NewService(ServiceDeps{
		Content:     ms.Content,
		Preferences: ms.Preferences,
		Allocator:   NewAllocator(ms.Content, WithNow(clock)),
		Notifier:    notify.New(ms.Notifications, notify.WithClock(clock)),
		Captions:    caps,
		Now:         clock,
	})
	return svc, ms, caps
}

func notificationsOf(t *testing.T, ms *memstore.Store, userID string, typ models.NotificationType) []*models.Notification {
	t.Helper()
	all, err := ms.Notifications.List(context.Background(), userID, store.NotificationFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make([]*models.Notification, 0)
	for _, n := range all {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func TestCreateItem_DraftWithoutPreference(t *testing.T) {
	svc, _, caps := newTestService(t, tuesdayMorning)

	item, err := svc.CreateItem(context.Background(), "u1", CreateItemInput{
		Kind: models.KindPost, Caption: "hello", Platforms: []string{"Facebook", "facebook", "twitter"},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if item.Status != models.StatusDraft || item.ScheduledAt != nil {
		t.Fatalf("expected draft, got %+v", item)
	}
	if len(item.Platforms) != 2 {
		t.Fatalf("expected deduped platforms, got %v", item.Platforms)
	}
	if len(caps.jobs) != 0 {
		t.Fatalf("expected no caption job for a captioned item")
	}
}

func TestCreateItem_ScheduledByPreferenceAndCaptionQueued(t *testing.T) {
	svc, ms, caps := newTestService(t, tuesdayMorning)
	ctx := context.Background()
	if _, err := svc.SavePreference(ctx, "u1", PreferenceInput{Cadence: models.CadenceDaily, TimeOfDay: "18:00"}); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}

	item, err := svc.CreateItem(ctx, "u1", CreateItemInput{Kind: models.KindVideo, MediaRefs: []string{"media/v.mp4"}})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if item.Status != models.StatusScheduled || !item.AutoScheduled {
		t.Fatalf("expected auto scheduled item, got %+v", item)
	}
	if day(*item.ScheduledAt) != "2026-03-03" || item.ScheduledAt.Hour() != 18 {
		t.Fatalf("expected today 18:00, got %s", item.ScheduledAt)
	}
	if item.CaptionStatus != models.CaptionPending {
		t.Fatalf("expected caption pending, got %s", item.CaptionStatus)
	}
	if len(caps.jobs) != 1 || caps.jobs[0] != item.ID+"|media/v.mp4" {
		t.Fatalf("expected caption job, got %v", caps.jobs)
	}
	if got := notificationsOf(t, ms, "u1", models.NotifyPostScheduled); len(got) != 1 {
		t.Fatalf("expected one post_scheduled notification, got %d", len(got))
	}
}

func TestCreateItem_Validation(t *testing.T) {
	svc, _, _ := newTestService(t, tuesdayMorning)
	ctx := context.Background()

	if _, err := svc.CreateItem(ctx, "u1", CreateItemInput{Kind: "story"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for kind, got %v", err)
	}
	if _, err := svc.CreateItem(ctx, "u1", CreateItemInput{Platforms: []string{"myspace"}}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for platform, got %v", err)
	}
	if _, err := svc.CreateItem(ctx, "u1", CreateItemInput{Kind: models.KindVideo}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for video without media, got %v", err)
	}
	past := tuesdayMorning.Add(-time.Hour)
	if _, err := svc.CreateItem(ctx, "u1", CreateItemInput{ScheduledAt: &past}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for past time, got %v", err)
	}
}

func TestCreateItem_ExplicitTimeConflict(t *testing.T) {
	svc, ms, _ := newTestService(t, tuesdayMorning)
	seedScheduled(t, ms, "v1", "u1", models.KindVideo, time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC))

	at := time.Date(2026, 3, 5, 20, 0, 0, 0, time.UTC)
	_, err := svc.CreateItem(context.Background(), "u1", CreateItemInput{Caption: "x", ScheduledAt: &at})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	at = time.Date(2026, 3, 6, 20, 0, 0, 0, time.UTC)
	item, err := svc.CreateItem(context.Background(), "u1", CreateItemInput{Caption: "x", ScheduledAt: &at})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if item.AutoScheduled {
		t.Fatalf("expected user-supplied time to be auto_scheduled=false")
	}
}

func TestCreateItem_CustomExhaustedStaysDraftAndNotifies(t *testing.T) {
	svc, ms, _ := newTestService(t, tuesdayMorning)
	ctx := context.Background()
	if _, err := svc.SavePreference(ctx, "u1", PreferenceInput{Cadence: models.CadenceCustom, CustomDates: []string{"2026-01-05"}}); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}

	item, err := svc.CreateItem(ctx, "u1", CreateItemInput{Caption: "later"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if item.Status != models.StatusDraft {
		t.Fatalf("expected draft on exhaustion, got %s", item.Status)
	}
	got := notificationsOf(t, ms, "u1", models.NotifySlotUnavailable)
	if len(got) != 1 || got[0].Priority != models.PriorityMedium {
		t.Fatalf("expected one medium slot_unavailable notification, got %+v", got)
	}
}

func TestScheduleItem_ReschedulingDedupsScheduledNotification(t *testing.T) {
	svc, ms, _ := newTestService(t, tuesdayMorning)
	ctx := context.Background()

	item, _ := svc.CreateItem(ctx, "u1", CreateItemInput{Caption: "x"})
	if _, err := svc.ScheduleItem(ctx, "u1", item.ID, ScheduleRequest{}); err != nil {
		t.Fatalf("ScheduleItem: %v", err)
	}
	at := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	if _, err := svc.ScheduleItem(ctx, "u1", item.ID, ScheduleRequest{At: &at}); err != nil {
		t.Fatalf("ScheduleItem: %v", err)
	}
	if got := notificationsOf(t, ms, "u1", models.NotifyPostScheduled); len(got) != 1 {
		t.Fatalf("expected a single unread post_scheduled notification, got %d", len(got))
	}
	stored, _ := ms.Content.Get(ctx, item.ID)
	if !stored.ScheduledAt.Equal(at) || stored.AutoScheduled {
		t.Fatalf("expected explicit reschedule, got %+v", stored)
	}
}

func TestScheduleItem_SameDayMoveIsAllowed(t *testing.T) {
	svc, ms, _ := newTestService(t, tuesdayMorning)
	ctx := context.Background()
	seedScheduled(t, ms, "c1", "u1", models.KindPost, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC))

	later := time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC)
	if _, err := svc.ScheduleItem(ctx, "u1", "c1", ScheduleRequest{At: &later}); err != nil {
		t.Fatalf("expected moving within the same day to succeed, got %v", err)
	}
}

func TestScheduleItem_OwnershipAndPublished(t *testing.T) {
	svc, ms, _ := newTestService(t, tuesdayMorning)
	ctx := context.Background()
	seedScheduled(t, ms, "c1", "u1", models.KindPost, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC))

	if _, err := svc.ScheduleItem(ctx, "intruder", "c1", ScheduleRequest{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user's item, got %v", err)
	}
	_ = ms.Content.CompletePublish(ctx, "c1", models.StatusPublished, &models.PublishReport{ItemID: "c1"})
	if _, err := svc.ScheduleItem(ctx, "u1", "c1", ScheduleRequest{}); !errors.Is(err, store.ErrAlreadyPublished) {
		t.Fatalf("expected ErrAlreadyPublished, got %v", err)
	}
	if _, err := svc.UnscheduleItem(ctx, "u1", "c1"); !errors.Is(err, store.ErrAlreadyPublished) {
		t.Fatalf("expected ErrAlreadyPublished on unschedule, got %v", err)
	}
}

func TestScheduleBulk_WeekdaysInOrder(t *testing.T) {
	friday := time.Date(2026, 3, 6, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, friday)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		it, err := svc.CreateItem(ctx, "u1", CreateItemInput{Caption: "bulk"})
		if err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
		ids = append(ids, it.ID)
	}
	items, err := svc.ScheduleBulk(ctx, "u1", BulkScheduleRequest{ItemIDs: ids, From: &friday})
	if err != nil {
		t.Fatalf("ScheduleBulk: %v", err)
	}
	want := []string{"2026-03-06", "2026-03-09", "2026-03-10"}
	for i, it := range items {
		if it.ID != ids[i] {
			t.Fatalf("expected order preserved")
		}
		if day(*it.ScheduledAt) != want[i] {
			t.Fatalf("item %d: expected %s got %s", i, want[i], it.ScheduledAt)
		}
	}
}

func TestUnscheduleAndDelete(t *testing.T) {
	svc, ms, _ := newTestService(t, tuesdayMorning)
	ctx := context.Background()
	seedScheduled(t, ms, "c1", "u1", models.KindPost, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC))

	item, err := svc.UnscheduleItem(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("UnscheduleItem: %v", err)
	}
	if item.Status != models.StatusDraft || item.ScheduledAt != nil {
		t.Fatalf("expected draft without a time, got %+v", item)
	}
	if err := svc.DeleteItem(ctx, "u1", "c1"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := svc.GetItem(ctx, "u1", "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted item to be gone, got %v", err)
	}
}

func TestSavePreference_ReplacesActive(t *testing.T) {
	svc, _, _ := newTestService(t, tuesdayMorning)
	ctx := context.Background()

	if _, err := svc.SavePreference(ctx, "u1", PreferenceInput{Cadence: models.CadenceDaily}); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}
	second, err := svc.SavePreference(ctx, "u1", PreferenceInput{
		Cadence: models.CadenceWeekly, Weekdays: []time.Weekday{time.Monday, time.Monday, time.Friday}, TimeOfDay: "07:45",
	})
	if err != nil {
		t.Fatalf("SavePreference: %v", err)
	}
	active, err := svc.ActivePreference(ctx, "u1")
	if err != nil {
		t.Fatalf("ActivePreference: %v", err)
	}
	if active.ID != second.ID || active.Cadence != models.CadenceWeekly || len(active.Weekdays) != 2 {
		t.Fatalf("expected the weekly preference to be active, got %+v", active)
	}

	bad := []PreferenceInput{
		{Cadence: "hourly"},
		{Cadence: models.CadenceDaily, TimeOfDay: "9am"},
		{Cadence: models.CadenceCustom},
		{Cadence: models.CadenceCustom, CustomDates: []string{"03/05/2026"}},
		{Cadence: models.CadenceDaily, Timezone: "Nowhere/Special"},
	}
	for i, in := range bad {
		if _, err := svc.SavePreference(ctx, "u1", in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("case %d: expected ErrInvalid, got %v", i, err)
		}
	}
}

func TestRequestCaption(t *testing.T) {
	svc, ms, caps := newTestService(t, tuesdayMorning)
	ctx := context.Background()
	_ = ms.Content.Create(ctx, &models.ContentItem{ID: "c1", UserID: "u1", MediaRefs: []string{"m/1.jpg"}, Status: models.StatusDraft})
	_ = ms.Content.Create(ctx, &models.ContentItem{ID: "c2", UserID: "u1", Status: models.StatusDraft})

	ok, err := svc.RequestCaption(ctx, "u1", "c1")
	if err != nil || !ok {
		t.Fatalf("RequestCaption: ok=%v err=%v", ok, err)
	}
	stored, _ := ms.Content.Get(ctx, "c1")
	if stored.CaptionStatus != models.CaptionPending {
		t.Fatalf("expected pending, got %s", stored.CaptionStatus)
	}
	if len(caps.jobs) != 1 {
		t.Fatalf("expected one job, got %v", caps.jobs)
	}
	if _, err := svc.RequestCaption(ctx, "u1", "c2"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid without media, got %v", err)
	}
	caps.reject = true
	if ok, err := svc.RequestCaption(ctx, "u1", "c1"); err != nil || ok {
		t.Fatalf("expected rejected duplicate, got ok=%v err=%v", ok, err)
	}
}

func TestCreateItem_ConcurrentRequestsGetDistinctDays(t *testing.T) {
	svc, ms, _ := newTestService(t, tuesdayMorning)
	ctx := context.Background()
	if _, err := svc.SavePreference(ctx, "u1", PreferenceInput{Cadence: models.CadenceDaily, TimeOfDay: "09:00"}); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}

	const n = 60
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.CreateItem(ctx, "u1", CreateItemInput{Caption: fmt.Sprintf("post %d", i)}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CreateItem: %v", err)
	}

	perDay := map[string]int{}
	for _, it := range ms.Content.All() {
		if it.OccupiesSlot() {
			perDay[day(*it.ScheduledAt)]++
		}
	}
	if len(perDay) != n {
		t.Fatalf("expected %d scheduled days, got %d", n, len(perDay))
	}
	for d, c := range perDay {
		if c != 1 {
			t.Fatalf("day %s has %d items", d, c)
		}
	}
}

// failingSchedule fails SetSchedule for one item id.
type failingSchedule struct {
	store.ContentStore
	failID string
}

func (f *failingSchedule) SetSchedule(ctx context.Context, id string, at time.Time, auto bool) error {
	if id == f.failID {
		return errors.New("write timeout")
	}
	return f.ContentStore.SetSchedule(ctx, id, at, auto)
}

func TestScheduleBulk_FailedWriteRestoresEarlierItems(t *testing.T) {
	friday := time.Date(2026, 3, 6, 7, 0, 0, 0, time.UTC)
	ms := memstore.New()
	clock := fixedClock(friday)
	ctx := context.Background()
	seedScheduled(t, ms, "moved", "u1", models.KindPost, time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC))
	if err := ms.Content.Create(ctx, &models.ContentItem{
		ID: "draft", UserID: "u1", Kind: models.KindPost, Status: models.StatusDraft,
	}); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	if err := ms.Content.Create(ctx, &models.ContentItem{
		ID: "broken", UserID: "u1", Kind: models.KindPost, Status: models.StatusDraft,
	}); err != nil {
		t.Fatalf("seed broken: %v", err)
	}
	svc := NewService(ServiceDeps{
		Content:     &failingSchedule{ContentStore: ms.Content, failID: "broken"},
		Preferences: ms.Preferences,
		Allocator:   NewAllocator(ms.Content, WithNow(clock)),
		Notifier:    notify.New(ms.Notifications, notify.WithClock(clock)),
		Now:         clock,
	})

	_, err := svc.ScheduleBulk(ctx, "u1", BulkScheduleRequest{ItemIDs: []string{"draft", "moved", "broken"}, From: &friday})
	if err == nil {
		t.Fatalf("expected the failed write to surface")
	}
	draft, _ := ms.Content.Get(ctx, "draft")
	if draft.Status != models.StatusDraft || draft.ScheduledAt != nil {
		t.Fatalf("expected draft restored, got %+v", draft)
	}
	moved, _ := ms.Content.Get(ctx, "moved")
	if moved.Status != models.StatusScheduled || day(*moved.ScheduledAt) != "2026-03-20" {
		t.Fatalf("expected moved item back on 2026-03-20, got %+v", moved)
	}
	if got := notificationsOf(t, ms, "u1", models.NotifyPostScheduled); len(got) != 0 {
		t.Fatalf("expected no post_scheduled notifications, got %d", len(got))
	}
}
