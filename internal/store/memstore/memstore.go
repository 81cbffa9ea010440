// Package memstore is an in-process implementation of the store contracts. It backs
// STORE_DRIVER=memory for local runs and the test suites.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/store"
)

type Store struct {
	Content       *ContentStore
	Preferences   *PreferenceStore
	Accounts      *AccountStore
	Notifications *NotificationStore
	Watermarks    *WatermarkStore
}

func New() *Store {
	return &Store{
		Content:       &ContentStore{items: map[string]*models.ContentItem{}},
		Preferences:   &PreferenceStore{prefs: map[string]*models.SchedulePreference{}},
		Accounts:      &AccountStore{accounts: map[string][]*models.ConnectedAccount{}},
		Notifications: &NotificationStore{byID: map[string]*models.Notification{}},
		Watermarks:    &WatermarkStore{ticks: map[string]time.Time{}},
	}
}

var (
	_ store.ContentStore      = (*ContentStore)(nil)
	_ store.PreferenceStore   = (*PreferenceStore)(nil)
	_ store.AccountStore      = (*AccountStore)(nil)
	_ store.NotificationStore = (*NotificationStore)(nil)
	_ store.WatermarkStore    = (*WatermarkStore)(nil)
)

type ContentStore struct {
	mu    sync.Mutex
	items map[string]*models.ContentItem
}

func cloneItem(c *models.ContentItem) *models.ContentItem {
	cp := *c
	cp.MediaRefs = append([]string(nil), c.MediaRefs...)
	cp.Hashtags = append([]string(nil), c.Hashtags...)
	cp.Platforms = append([]string(nil), c.Platforms...)
	if c.PublishReport != nil {
		r := *c.PublishReport
		r.Results = append([]models.PlatformResult(nil), c.PublishReport.Results...)
		cp.PublishReport = &r
	}
	return &cp
}

func (s *ContentStore) Create(_ context.Context, item *models.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *ContentStore) Get(_ context.Context, id string) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok || c.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	return cloneItem(c), nil
}

// All returns every non-deleted item, ordered by scheduled time then id.
func (s *ContentStore) All() []*models.ContentItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ContentItem, 0, len(s.items))
	for _, c := range s.items {
		if c.DeletedAt == nil {
			out = append(out, cloneItem(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ScheduledAt, out[j].ScheduledAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *ContentStore) HasScheduledBetween(_ context.Context, userID string, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.items {
		if c.UserID != userID || !c.OccupiesSlot() {
			continue
		}
		if !c.ScheduledAt.Before(from) && c.ScheduledAt.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (s *ContentStore) LatestScheduled(_ context.Context, userID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, c := range s.items {
		if c.UserID != userID || !c.OccupiesSlot() {
			continue
		}
		if latest == nil || c.ScheduledAt.After(*latest) {
			t := *c.ScheduledAt
			latest = &t
		}
	}
	return latest, nil
}

func (s *ContentStore) ListDue(_ context.Context, from, to time.Time, limit int) ([]*models.ContentItem, error) {
	s.mu.Lock()
	out := make([]*models.ContentItem, 0)
	for _, c := range s.items {
		if c.DeletedAt != nil || c.Status != models.StatusScheduled || c.ScheduledAt == nil {
			continue
		}
		if c.ScheduledAt.Before(from) || c.ScheduledAt.After(to) {
			continue
		}
		out = append(out, cloneItem(c))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].LastPublishAttemptAt, out[j].LastPublishAttemptAt
		switch {
		case ai == nil && aj != nil:
			return true
		case ai != nil && aj == nil:
			return false
		case ai != nil && aj != nil && !ai.Equal(*aj):
			return ai.Before(*aj)
		}
		return out[i].ScheduledAt.Before(*out[j].ScheduledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ContentStore) CountOverdue(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.items {
		if c.DeletedAt == nil && c.Status == models.StatusScheduled && c.ScheduledAt != nil && c.ScheduledAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (s *ContentStore) update(id string, fn func(c *models.ContentItem) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok || c.DeletedAt != nil {
		return store.ErrNotFound
	}
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *ContentStore) SetSchedule(_ context.Context, id string, at time.Time, auto bool) error {
	return s.update(id, func(c *models.ContentItem) error {
		if c.Status == models.StatusPublished {
			return store.ErrNotFound
		}
		t := at.UTC()
		c.ScheduledAt = &t
		c.AutoScheduled = auto
		c.Status = models.StatusScheduled
		return nil
	})
}

func (s *ContentStore) Unschedule(_ context.Context, id string) error {
	return s.update(id, func(c *models.ContentItem) error {
		if c.Status == models.StatusPublished {
			return store.ErrNotFound
		}
		c.ScheduledAt = nil
		c.AutoScheduled = false
		c.Status = models.StatusDraft
		return nil
	})
}

func (s *ContentStore) SoftDelete(_ context.Context, id string) error {
	return s.update(id, func(c *models.ContentItem) error {
		now := time.Now().UTC()
		c.DeletedAt = &now
		return nil
	})
}

func (s *ContentStore) Claim(_ context.Context, id, attemptID string, staleAfter time.Duration) error {
	return s.update(id, func(c *models.ContentItem) error {
		if c.Status == models.StatusPublished {
			return store.ErrClaimHeld
		}
		now := time.Now().UTC()
		if c.LastPublishAttemptID != nil && c.LastPublishAttemptAt != nil && now.Sub(*c.LastPublishAttemptAt) < staleAfter {
			return store.ErrClaimHeld
		}
		a := attemptID
		c.LastPublishAttemptID = &a
		c.LastPublishAttemptAt = &now
		return nil
	})
}

func (s *ContentStore) CompletePublish(_ context.Context, id string, status models.ContentStatus, report *models.PublishReport) error {
	return s.update(id, func(c *models.ContentItem) error {
		c.Status = status
		if report != nil {
			r := *report
			r.Results = append([]models.PlatformResult(nil), report.Results...)
			c.PublishReport = &r
		}
		if status == models.StatusPublished {
			now := time.Now().UTC()
			c.PublishedAt = &now
		}
		if status == models.StatusDraft {
			c.ScheduledAt = nil
			c.AutoScheduled = false
		}
		c.LastPublishAttemptID = nil
		return nil
	})
}

func (s *ContentStore) ReleaseClaim(_ context.Context, id string) error {
	return s.update(id, func(c *models.ContentItem) error {
		c.LastPublishAttemptID = nil
		return nil
	})
}

func (s *ContentStore) SetCaptionStatus(_ context.Context, id string, status models.CaptionStatus) error {
	return s.update(id, func(c *models.ContentItem) error {
		c.CaptionStatus = status
		return nil
	})
}

func (s *ContentStore) SetCaption(_ context.Context, id, caption string, hashtags []string) error {
	return s.update(id, func(c *models.ContentItem) error {
		c.Caption = caption
		c.Hashtags = append([]string(nil), hashtags...)
		c.CaptionStatus = models.CaptionCompleted
		return nil
	})
}

type PreferenceStore struct {
	mu    sync.Mutex
	prefs map[string]*models.SchedulePreference
}

func (s *PreferenceStore) Active(_ context.Context, userID string) (*models.SchedulePreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *PreferenceStore) Save(_ context.Context, pref *models.SchedulePreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now
	pref.IsActive = true
	cp := *pref
	s.prefs[pref.UserID] = &cp
	return nil
}

type AccountStore struct {
	mu       sync.Mutex
	accounts map[string][]*models.ConnectedAccount
}

// Add registers an account, replacing an existing one with the same
// (platform, external account id) for that user.
func (s *AccountStore) Add(a *models.ConnectedAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.accounts[a.UserID]
	for i, existing := range list {
		if existing.Platform == a.Platform && existing.ExternalAccountID == a.ExternalAccountID {
			cp := *a
			list[i] = &cp
			return
		}
	}
	cp := *a
	s.accounts[a.UserID] = append(list, &cp)
}

func (s *AccountStore) ListActive(_ context.Context, userID string) ([]*models.ConnectedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ConnectedAccount, 0)
	for _, a := range s.accounts[userID] {
		if a.Status == models.AccountActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

type NotificationStore struct {
	mu    sync.Mutex
	byID  map[string]*models.Notification
	order []string
}

func (s *NotificationStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	s.byID[n.ID] = &cp
	s.order = append(s.order, n.ID)
	return nil
}

func (s *NotificationStore) FindUnread(_ context.Context, userID string, typ models.NotificationType, itemID string) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		n, ok := s.byID[s.order[i]]
		if !ok {
			continue
		}
		if n.UserID == userID && n.Type == typ && n.Status == models.NotificationUnread && n.ItemID != nil && *n.ItemID == itemID {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *NotificationStore) List(_ context.Context, userID string, f store.NotificationFilter) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Notification, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		n, ok := s.byID[s.order[i]]
		if !ok || n.UserID != userID {
			continue
		}
		if f.UnreadOnly && n.Status != models.NotificationUnread {
			continue
		}
		cp := *n
		out = append(out, &cp)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	markRead(n)
	return nil
}

func markRead(n *models.Notification) {
	if n.ReadAt == nil {
		now := time.Now().UTC()
		n.ReadAt = &now
	}
	if n.Status == models.NotificationUnread {
		n.Status = models.NotificationRead
	}
}

func (s *NotificationStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, v := range s.byID {
		if v.UserID == userID && v.Status == models.NotificationUnread {
			markRead(v)
			n++
		}
	}
	return n, nil
}

func (s *NotificationStore) SetStatus(_ context.Context, userID string, ids []string, status models.NotificationStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		v, ok := s.byID[id]
		if !ok || v.UserID != userID {
			continue
		}
		if status == models.NotificationRead {
			markRead(v)
		} else {
			v.Status = status
		}
		n++
	}
	return n, nil
}

func (s *NotificationStore) Delete(_ context.Context, userID string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if v, ok := s.byID[id]; ok && v.UserID == userID {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func (s *NotificationStore) DeleteExpired(_ context.Context, now, readBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, v := range s.byID {
		expired := v.ExpiresAt != nil && v.ExpiresAt.Before(now)
		stale := v.ReadAt != nil && v.ReadAt.Before(readBefore)
		if expired || stale {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

type WatermarkStore struct {
	mu    sync.Mutex
	ticks map[string]time.Time
}

func (s *WatermarkStore) LastTick(_ context.Context, name string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.ticks[name]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *WatermarkStore) SaveTick(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[name] = at
	return nil
}

// Stores exposes the in-memory implementations through the store contracts.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Content:       s.Content,
		Preferences:   s.Preferences,
		Accounts:      s.Accounts,
		Notifications: s.Notifications,
		Watermarks:    s.Watermarks,
	}
}
