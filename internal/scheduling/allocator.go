// Package scheduling allocates publish slots and drives the content item lifecycle
// (draft, scheduled, unscheduled, deleted).
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/metrics"
	"github.com/PortNumber53/social-scheduler/internal/models"
)

// ErrNoSlotAvailable means no conflict-free day could be found. Only custom cadences with no
// usable future dates hit this in practice; the walk horizon is a backstop.
var ErrNoSlotAvailable = errors.New("no_slot_available")

const (
	DefaultTimeOfDay = "09:00"
	horizonDays      = 730
)

// Slot is an allocated publish time. AutoScheduled is true when a preference drove it.
type Slot struct {
	At            time.Time `json:"at"`
	AutoScheduled bool      `json:"autoScheduled"`
}

// SlotReader is the part of the content store the allocator needs.
type SlotReader interface {
	HasScheduledBetween(ctx context.Context, userID string, from, to time.Time) (bool, error)
	LatestScheduled(ctx context.Context, userID string) (*time.Time, error)
}

type Allocator struct {
	items   SlotReader
	loc     *time.Location
	now     func() time.Time
	metrics metrics.Recorder
}

type AllocatorOption func(*Allocator)

// WithLocation sets the timezone used when a preference has none.
func WithLocation(loc *time.Location) AllocatorOption {
	return func(a *Allocator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func WithNow(now func() time.Time) AllocatorOption {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithAllocatorMetrics(m metrics.Recorder) AllocatorOption {
	return func(a *Allocator) { a.metrics = metrics.OrNop(m) }
}

func NewAllocator(items SlotReader, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		items:   items,
		loc:     time.UTC,
		now:     time.Now,
		metrics: metrics.Nop{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Location returns the timezone the preference's days are evaluated in.
func (a *Allocator) Location(pref *models.SchedulePreference) *time.Location {
	if pref != nil && strings.TrimSpace(pref.Timezone) != "" {
		if loc, err := time.LoadLocation(pref.Timezone); err == nil {
			return loc
		}
	}
	return a.loc
}

// ParseTimeOfDay parses "HH:MM". Empty input yields the 09:00 default.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultTimeOfDay
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("time of day %q must be HH:MM", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time of day %q has an invalid hour", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q has an invalid minute", s)
	}
	return hour, minute, nil
}

// walk holds the state of one allocation pass.
type walk struct {
	userID       string
	pref         *models.SchedulePreference
	loc          *time.Location
	hour, minute int
	now          time.Time
	skipWeekends bool
	taken        map[time.Time]bool // day starts handed out earlier in the same bulk call
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func (w *walk) slotOn(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), w.hour, w.minute, 0, 0, w.loc)
}

// addMonthClamped returns the same day-of-month one month later, clamped to the last
// day of the target month (Jan 31 -> Feb 28/29).
func addMonthClamped(day time.Time) time.Time {
	y, m, d := day.Date()
	firstOfTarget := time.Date(y, m+1, 1, 0, 0, 0, 0, day.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, 0, 0, 0, 0, day.Location())
}

func isWeekend(d time.Time) bool {
	return d.Weekday() == time.Saturday || d.Weekday() == time.Sunday
}

// usable reports whether day can take the slot, ignoring cadence.
func (a *Allocator) usable(ctx context.Context, w *walk, day time.Time) (bool, error) {
	if !w.slotOn(day).After(w.now) {
		return false, nil
	}
	if w.skipWeekends && isWeekend(day) {
		return false, nil
	}
	if w.taken[day] {
		return false, nil
	}
	busy, err := a.items.HasScheduledBetween(ctx, w.userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return false, fmt.Errorf("check slot conflict: %w", err)
	}
	return !busy, nil
}

// walkDays steps one calendar day at a time from start until accept and usable both hold.
func (a *Allocator) walkDays(ctx context.Context, w *walk, start time.Time, accept func(time.Time) bool) (time.Time, error) {
	day := start
	for i := 0; i < horizonDays; i++ {
		if accept == nil || accept(day) {
			ok, err := a.usable(ctx, w, day)
			if err != nil {
				return time.Time{}, err
			}
			if ok {
				return day, nil
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, ErrNoSlotAvailable
}

// next finds one slot. start is the first day the generic walk may consider; anchor is
// the reference day for monthly and weekly-without-days cadences.
func (a *Allocator) next(ctx context.Context, w *walk, start, anchor time.Time, explicitFrom bool) (time.Time, error) {
	pref := w.pref
	if pref == nil {
		return a.walkDays(ctx, w, start, nil)
	}
	switch pref.Cadence {
	case models.CadenceWeekly:
		if len(pref.Weekdays) == 0 {
			first := anchor.AddDate(0, 0, 7)
			if first.Before(start) {
				first = start
			}
			return a.walkDays(ctx, w, first, nil)
		}
		days := make(map[time.Weekday]bool, len(pref.Weekdays))
		for _, d := range pref.Weekdays {
			days[d] = true
		}
		return a.walkDays(ctx, w, start, func(d time.Time) bool { return days[d.Weekday()] })
	case models.CadenceMonthly:
		return a.walkDays(ctx, w, addMonthClamped(anchor), nil)
	case models.CadenceCustom:
		dates := make([]time.Time, 0, len(pref.CustomDates))
		for _, d := range pref.CustomDates {
			dates = append(dates, time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, w.loc))
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		for _, day := range dates {
			if explicitFrom && day.Before(start) {
				continue
			}
			ok, err := a.usable(ctx, w, day)
			if err != nil {
				return time.Time{}, err
			}
			if ok {
				return day, nil
			}
		}
		return time.Time{}, ErrNoSlotAvailable
	default:
		return a.walkDays(ctx, w, start, nil)
	}
}

// begin resolves the walk parameters for a request.
func (a *Allocator) begin(ctx context.Context, userID string, pref *models.SchedulePreference, from *time.Time, bulk bool) (*walk, time.Time, time.Time, error) {
	var tod string
	if pref != nil {
		tod = pref.TimeOfDay
	}
	hour, minute, err := ParseTimeOfDay(tod)
	if err != nil {
		hour, minute, _ = ParseTimeOfDay(DefaultTimeOfDay)
	}
	loc := a.Location(pref)
	w := &walk{
		userID:       userID,
		pref:         pref,
		loc:          loc,
		hour:         hour,
		minute:       minute,
		now:          a.now().In(loc),
		skipWeekends: bulk,
		taken:        map[time.Time]bool{},
	}
	today := dayStart(w.now, loc)

	if from != nil {
		d := dayStart(*from, loc)
		return w, d, d, nil
	}
	if pref == nil {
		tomorrow := today.AddDate(0, 0, 1)
		return w, tomorrow, today, nil
	}
	latest, err := a.items.LatestScheduled(ctx, userID)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("load latest scheduled: %w", err)
	}
	if latest == nil {
		return w, today, today, nil
	}
	last := dayStart(*latest, loc)
	start := last.AddDate(0, 0, 1)
	if start.Before(today) {
		start = today
	}
	anchor := last
	if pref.Cadence == models.CadenceWeekly {
		anchor = today
	}
	return w, start, anchor, nil
}

// Allocate returns the next conflict-free slot for the user. pref may be nil, in which
// case the walk starts tomorrow at 09:00 and the slot is not marked auto-scheduled.
func (a *Allocator) Allocate(ctx context.Context, userID string, pref *models.SchedulePreference, from *time.Time) (Slot, error) {
	w, start, anchor, err := a.begin(ctx, userID, pref, from, false)
	if err != nil {
		return Slot{}, err
	}
	day, err := a.next(ctx, w, start, anchor, from != nil)
	if err != nil {
		if errors.Is(err, ErrNoSlotAvailable) {
			a.metrics.SlotUnavailable()
		}
		return Slot{}, err
	}
	a.metrics.SlotAllocated(pref != nil)
	return Slot{At: w.slotOn(day), AutoScheduled: pref != nil}, nil
}

// AllocateBulk returns n slots in ascending order, skipping Saturdays and Sundays. Each
// slot after the first is searched from the day after the previous one.
func (a *Allocator) AllocateBulk(ctx context.Context, userID string, pref *models.SchedulePreference, n int, from *time.Time) ([]Slot, error) {
	if n <= 0 {
		return nil, nil
	}
	w, start, anchor, err := a.begin(ctx, userID, pref, from, true)
	if err != nil {
		return nil, err
	}
	explicit := from != nil
	out := make([]Slot, 0, n)
	for len(out) < n {
		day, err := a.next(ctx, w, start, anchor, explicit)
		if err != nil {
			if errors.Is(err, ErrNoSlotAvailable) {
				a.metrics.SlotUnavailable()
				return nil, fmt.Errorf("allocated %d of %d slots: %w", len(out), n, err)
			}
			return nil, err
		}
		w.taken[day] = true
		out = append(out, Slot{At: w.slotOn(day), AutoScheduled: pref != nil})
		a.metrics.SlotAllocated(pref != nil)
		start = day.AddDate(0, 0, 1)
		anchor = day
		explicit = true
	}
	return out, nil
}
