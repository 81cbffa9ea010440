package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/sirupsen/logrus"
)

type PreferenceInput struct {
	Cadence     models.Cadence `json:"cadence"`
	TimeOfDay   string         `json:"timeOfDay"`
	Weekdays    []time.Weekday `json:"weekdays,omitempty"`
	CustomDates []string       `json:"customDates,omitempty"` // YYYY-MM-DD
	Timezone    string         `json:"timezone,omitempty"`
}

// SavePreference validates in and makes it the user's only active preference.
func (s *Service) SavePreference(ctx context.Context, userID string, in PreferenceInput) (*models.SchedulePreference, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("missing userId")
	}
	pref := &models.SchedulePreference{
		ID:        s.newID(),
		UserID:    userID,
		Cadence:   models.Cadence(strings.ToLower(strings.TrimSpace(string(in.Cadence)))),
		TimeOfDay: strings.TrimSpace(in.TimeOfDay),
		Timezone:  strings.TrimSpace(in.Timezone),
	}
	if pref.TimeOfDay == "" {
		pref.TimeOfDay = DefaultTimeOfDay
	}
	if _, _, err := ParseTimeOfDay(pref.TimeOfDay); err != nil {
		return nil, invalid("%v", err)
	}
	if pref.Timezone != "" {
		if _, err := time.LoadLocation(pref.Timezone); err != nil {
			return nil, invalid("unknown timezone %q", pref.Timezone)
		}
	}

	switch pref.Cadence {
	case models.CadenceDaily, models.CadenceMonthly:
	case models.CadenceWeekly:
		seen := map[time.Weekday]bool{}
		for _, d := range in.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return nil, invalid("weekday %d out of range", d)
			}
			if !seen[d] {
				seen[d] = true
				pref.Weekdays = append(pref.Weekdays, d)
			}
		}
	case models.CadenceCustom:
		if len(in.CustomDates) == 0 {
			return nil, invalid("custom cadence needs at least one date")
		}
		for _, raw := range in.CustomDates {
			d, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
			if err != nil {
				return nil, invalid("custom date %q must be YYYY-MM-DD", raw)
			}
			pref.CustomDates = append(pref.CustomDates, d)
		}
	default:
		return nil, invalid("cadence must be daily, weekly, monthly or custom")
	}

	if err := s.prefs.Save(ctx, pref); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"userId": userID, "preferenceId": pref.ID, "cadence": pref.Cadence, "timeOfDay": pref.TimeOfDay,
	}).Info("[Preferences] saved")
	return pref, nil
}

// ActivePreference returns the user's active preference, or nil when none is set.
func (s *Service) ActivePreference(ctx context.Context, userID string) (*models.SchedulePreference, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("missing userId")
	}
	return s.prefs.Active(ctx, userID)
}
