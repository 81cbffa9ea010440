package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalid wraps every input validation failure.
	ErrInvalid = errors.New("invalid_request")
	// ErrSlotTaken is returned when a user-supplied time lands on a day that already has an item.
	ErrSlotTaken = errors.New("slot_taken")
)

var knownPlatforms = map[string]bool{
	"facebook":  true,
	"instagram": true,
	"twitter":   true,
	"linkedin":  true,
}

// Notifier is the part of notify.Notifier the service uses.
type Notifier interface {
	Notify(ctx context.Context, userID string, ev notify.Event) (*models.Notification, error)
}

// CaptionEnqueuer hands an item to the caption job queue. It returns false when a job for
// the item is already in flight.
type CaptionEnqueuer interface {
	EnqueueCaption(itemID, userID, mediaRef string) bool
}

type Service struct {
	content  store.ContentStore
	prefs    store.PreferenceStore
	alloc    *Allocator
	notifier Notifier
	captions CaptionEnqueuer
	log      logrus.FieldLogger
	newID    func() string
	now      func() time.Time

	// slots is held from reading a user's free days until the chosen one is written.
	slots userLocks
}

type ServiceDeps struct {
	Content     store.ContentStore
	Preferences store.PreferenceStore
	Allocator   *Allocator
	Notifier    Notifier
	Captions    CaptionEnqueuer
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

func NewService(d ServiceDeps) *Service {
	s := &Service{
		content:  d.Content,
		prefs:    d.Preferences,
		alloc:    d.Allocator,
		notifier: d.Notifier,
		captions: d.Captions,
		log:      logging.OrDiscard(d.Logger),
		newID:    func() string { return uuid.NewString() },
		now:      d.Now,
	}
	if s.alloc == nil {
		s.alloc = NewAllocator(d.Content)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetCaptions wires the caption queue after construction; the queue's processor needs the
// content store too, so the two are built in either order.
func (s *Service) SetCaptions(c CaptionEnqueuer) { s.captions = c }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type CreateItemInput struct {
	Kind        models.ContentKind `json:"kind"`
	MediaRefs   []string           `json:"mediaRefs"`
	Caption     string             `json:"caption"`
	Hashtags    []string           `json:"hashtags"`
	Platforms   []string           `json:"platforms"`
	ScheduledAt *time.Time         `json:"scheduledAt,omitempty"`
}

func normalizePlatforms(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		if !knownPlatforms[p] {
			return nil, invalid("unsupported platform %q", p)
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// CreateItem stores a new post or video. It is scheduled straight away when the caller gives
// a time or the user has an active preference; otherwise it stays a draft. Items with media
// but no caption get a caption job.
func (s *Service) CreateItem(ctx context.Context, userID string, in CreateItemInput) (*models.ContentItem, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("missing userId")
	}
	switch in.Kind {
	case models.KindPost, models.KindVideo:
	case "":
		in.Kind = models.KindPost
	default:
		return nil, invalid("kind must be post or video")
	}
	platforms, err := normalizePlatforms(in.Platforms)
	if err != nil {
		return nil, err
	}
	media := make([]string, 0, len(in.MediaRefs))
	for _, m := range in.MediaRefs {
		if m = strings.TrimSpace(m); m != "" {
			media = append(media, m)
		}
	}
	if in.Kind == models.KindVideo && len(media) == 0 {
		return nil, invalid("video items need a media reference")
	}

	item := &models.ContentItem{
		ID:            s.newID(),
		UserID:        userID,
		Kind:          in.Kind,
		MediaRefs:     media,
		Caption:       strings.TrimSpace(in.Caption),
		Hashtags:      in.Hashtags,
		Platforms:     platforms,
		Status:        models.StatusDraft,
		CaptionStatus: models.CaptionNone,
	}
	needsCaption := item.Caption == "" && len(media) > 0 && s.captions != nil
	if needsCaption {
		item.CaptionStatus = models.CaptionPending
	}

	unlock := s.slots.lock(userID)
	slot, slotErr := s.initialSlot(ctx, userID, in.ScheduledAt)
	if slotErr != nil && !errors.Is(slotErr, ErrNoSlotAvailable) {
		unlock()
		return nil, slotErr
	}
	if slot != nil {
		at := slot.At.UTC()
		item.ScheduledAt = &at
		item.AutoScheduled = slot.AutoScheduled
		item.Status = models.StatusScheduled
	}
	err = s.content.Create(ctx, item)
	unlock()
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"userId": userID, "itemId": item.ID, "kind": item.Kind, "status": item.Status,
	}).Info("[Content] created")

	if slot != nil {
		s.notifyScheduled(ctx, item)
	} else if errors.Is(slotErr, ErrNoSlotAvailable) {
		s.notifyNoSlot(ctx, item)
	}
	if needsCaption {
		s.captions.EnqueueCaption(item.ID, userID, item.FirstMedia())
	}
	return item, nil
}

// initialSlot picks the slot for a new item: the caller's explicit time, or the active
// preference's next slot, or none.
func (s *Service) initialSlot(ctx context.Context, userID string, at *time.Time) (*Slot, error) {
	if at != nil {
		if err := s.checkExplicit(ctx, userID, *at, nil); err != nil {
			return nil, err
		}
		return &Slot{At: *at, AutoScheduled: false}, nil
	}
	pref, err := s.prefs.Active(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preference: %w", err)
	}
	if pref == nil {
		return nil, nil
	}
	slot, err := s.alloc.Allocate(ctx, userID, pref, nil)
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// checkExplicit validates a user-supplied time: it must be in the future and its calendar
// day must be free. self is the item being moved, whose own current day does not count.
func (s *Service) checkExplicit(ctx context.Context, userID string, at time.Time, self *models.ContentItem) error {
	if !at.After(s.now()) {
		return invalid("scheduledAt must be in the future")
	}
	pref, err := s.prefs.Active(ctx, userID)
	if err != nil {
		return fmt.Errorf("load preference: %w", err)
	}
	loc := s.alloc.Location(pref)
	day := dayStart(at, loc)
	if self != nil && self.OccupiesSlot() && dayStart(*self.ScheduledAt, loc).Equal(day) {
		return nil
	}
	busy, err := s.content.HasScheduledBetween(ctx, userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	if busy {
		return ErrSlotTaken
	}
	return nil
}

// owned loads an item and checks it belongs to userID.
func (s *Service) owned(ctx context.Context, userID, itemID string) (*models.ContentItem, error) {
	item, err := s.content.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, store.ErrNotFound
	}
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, userID, itemID string) (*models.ContentItem, error) {
	return s.owned(ctx, userID, itemID)
}

type ScheduleRequest struct {
	At            *time.Time `json:"at,omitempty"`
	From          *time.Time `json:"from,omitempty"`
	UsePreference bool       `json:"usePreference"`
}

// ScheduleItem moves an item to scheduled, either at the caller's time or at the next
// allocated slot. On allocation exhaustion the item is left as it was and the user is told.
func (s *Service) ScheduleItem(ctx context.Context, userID, itemID string, req ScheduleRequest) (*models.ContentItem, error) {
	item, err := s.owned(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == models.StatusPublished {
		return nil, store.ErrAlreadyPublished
	}

	unlock := s.slots.lock(userID)
	slot, err := s.pickSlot(ctx, userID, item, req)
	if err == nil {
		err = s.content.SetSchedule(ctx, item.ID, slot.At, slot.AutoScheduled)
	}
	unlock()
	if errors.Is(err, ErrNoSlotAvailable) {
		s.notifyNoSlot(ctx, item)
	}
	if err != nil {
		return nil, err
	}
	at := slot.At.UTC()
	item.ScheduledAt = &at
	item.AutoScheduled = slot.AutoScheduled
	item.Status = models.StatusScheduled
	s.log.WithFields(logrus.Fields{
		"userId": userID, "itemId": item.ID, "at": at.Format(time.RFC3339), "auto": slot.AutoScheduled,
	}).Info("[Content] scheduled")
	s.notifyScheduled(ctx, item)
	return item, nil
}

// pickSlot resolves the slot for ScheduleItem. Callers hold the user's slot lock.
func (s *Service) pickSlot(ctx context.Context, userID string, item *models.ContentItem, req ScheduleRequest) (Slot, error) {
	if req.At != nil {
		if err := s.checkExplicit(ctx, userID, *req.At, item); err != nil {
			return Slot{}, err
		}
		return Slot{At: *req.At}, nil
	}
	var pref *models.SchedulePreference
	if req.UsePreference {
		p, err := s.prefs.Active(ctx, userID)
		if err != nil {
			return Slot{}, fmt.Errorf("load preference: %w", err)
		}
		pref = p
	}
	return s.alloc.Allocate(ctx, userID, pref, req.From)
}

type BulkScheduleRequest struct {
	ItemIDs       []string   `json:"itemIds"`
	From          *time.Time `json:"from,omitempty"`
	UsePreference bool       `json:"usePreference"`
}

// ScheduleBulk assigns consecutive weekday slots to the items in the order given. Slots for
// all items are allocated before anything is written, so exhaustion changes nothing. If a
// write fails partway, the items already written are put back to their previous schedule.
func (s *Service) ScheduleBulk(ctx context.Context, userID string, req BulkScheduleRequest) ([]*models.ContentItem, error) {
	if len(req.ItemIDs) == 0 {
		return nil, invalid("itemIds is required")
	}
	items := make([]*models.ContentItem, 0, len(req.ItemIDs))
	seen := map[string]bool{}
	for _, id := range req.ItemIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		item, err := s.owned(ctx, userID, id)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		if item.Status == models.StatusPublished {
			return nil, fmt.Errorf("item %s: %w", id, store.ErrAlreadyPublished)
		}
		items = append(items, item)
	}

	var pref *models.SchedulePreference
	if req.UsePreference {
		p, err := s.prefs.Active(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load preference: %w", err)
		}
		pref = p
	}
	unlock := s.slots.lock(userID)
	slots, err := s.alloc.AllocateBulk(ctx, userID, pref, len(items), req.From)
	if err == nil {
		err = s.writeBulk(ctx, items, slots)
	}
	unlock()
	if err != nil {
		if errors.Is(err, ErrNoSlotAvailable) {
			for _, it := range items {
				s.notifyNoSlot(ctx, it)
			}
		}
		return nil, err
	}
	for i, item := range items {
		at := slots[i].At.UTC()
		item.ScheduledAt = &at
		item.AutoScheduled = slots[i].AutoScheduled
		item.Status = models.StatusScheduled
		s.notifyScheduled(ctx, item)
	}
	s.log.WithFields(logrus.Fields{"userId": userID, "count": len(items)}).Info("[Content] bulk_scheduled")
	return items, nil
}

// writeBulk stores slots[i] on items[i]. On a failed write it restores the items written
// so far; a failed restore is logged and the original error returned.
func (s *Service) writeBulk(ctx context.Context, items []*models.ContentItem, slots []Slot) error {
	for i, item := range items {
		err := s.content.SetSchedule(ctx, item.ID, slots[i].At, slots[i].AutoScheduled)
		if err == nil {
			continue
		}
		for _, prev := range items[:i] {
			var rerr error
			if prev.OccupiesSlot() {
				rerr = s.content.SetSchedule(ctx, prev.ID, *prev.ScheduledAt, prev.AutoScheduled)
			} else {
				rerr = s.content.Unschedule(ctx, prev.ID)
			}
			if rerr != nil {
				s.log.WithError(rerr).WithField("itemId", prev.ID).Warn("[Content] bulk_restore_failed")
			}
		}
		return fmt.Errorf("item %s: %w", item.ID, err)
	}
	return nil
}

// AllocateSlots previews the next slots without assigning them.
func (s *Service) AllocateSlots(ctx context.Context, userID string, count int, from *time.Time, usePreference bool) ([]Slot, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("missing userId")
	}
	if count <= 0 {
		count = 1
	}
	if count > 31 {
		return nil, invalid("count must be at most 31")
	}
	var pref *models.SchedulePreference
	if usePreference {
		p, err := s.prefs.Active(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load preference: %w", err)
		}
		pref = p
	}
	if count == 1 {
		slot, err := s.alloc.Allocate(ctx, userID, pref, from)
		if err != nil {
			return nil, err
		}
		return []Slot{slot}, nil
	}
	return s.alloc.AllocateBulk(ctx, userID, pref, count, from)
}

func (s *Service) UnscheduleItem(ctx context.Context, userID, itemID string) (*models.ContentItem, error) {
	item, err := s.owned(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == models.StatusPublished {
		return nil, store.ErrAlreadyPublished
	}
	if err := s.content.Unschedule(ctx, item.ID); err != nil {
		return nil, err
	}
	item.Status = models.StatusDraft
	item.ScheduledAt = nil
	item.AutoScheduled = false
	s.log.WithFields(logrus.Fields{"userId": userID, "itemId": item.ID}).Info("[Content] unscheduled")
	return item, nil
}

func (s *Service) DeleteItem(ctx context.Context, userID, itemID string) error {
	item, err := s.owned(ctx, userID, itemID)
	if err != nil {
		return err
	}
	if err := s.content.SoftDelete(ctx, item.ID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"userId": userID, "itemId": item.ID}).Info("[Content] deleted")
	return nil
}

// RequestCaption queues caption generation for an item's first media reference. It returns
// false when a job for the item is already running or waiting to retry.
func (s *Service) RequestCaption(ctx context.Context, userID, itemID string) (bool, error) {
	if s.captions == nil {
		return false, errors.New("caption queue not configured")
	}
	item, err := s.owned(ctx, userID, itemID)
	if err != nil {
		return false, err
	}
	media := item.FirstMedia()
	if media == "" {
		return false, invalid("item has no media to caption")
	}
	if !s.captions.EnqueueCaption(item.ID, userID, media) {
		return false, nil
	}
	if err := s.content.SetCaptionStatus(ctx, item.ID, models.CaptionPending); err != nil {
		s.log.WithError(err).WithField("itemId", item.ID).Warn("[Content] caption_status_update_failed")
	}
	return true, nil
}

func (s *Service) notifyScheduled(ctx context.Context, item *models.ContentItem) {
	if s.notifier == nil || item.ScheduledAt == nil {
		return
	}
	body := fmt.Sprintf("Scheduled for %s", item.ScheduledAt.UTC().Format(time.RFC1123))
	if _, err := s.notifier.Notify(ctx, item.UserID, notify.Event{
		Type: models.NotifyPostScheduled, ItemID: item.ID, Body: body,
	}); err != nil {
		s.log.WithError(err).WithField("itemId", item.ID).Warn("[Content] notify_failed")
	}
}

func (s *Service) notifyNoSlot(ctx context.Context, item *models.ContentItem) {
	s.log.WithFields(logrus.Fields{"userId": item.UserID, "itemId": item.ID}).Warn("[Content] no_slot_available")
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, item.UserID, notify.Event{
		Type:   models.NotifySlotUnavailable,
		ItemID: item.ID,
		Body:   "None of your schedule's dates are free. The item was kept as a draft.",
	}); err != nil {
		s.log.WithError(err).WithField("itemId", item.ID).Warn("[Content] notify_failed")
	}
}
