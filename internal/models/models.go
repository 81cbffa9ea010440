package models

import "time"

type ContentKind string

const (
	KindPost  ContentKind = "post"
	KindVideo ContentKind = "video"
)

type ContentStatus string

const (
	StatusDraft     ContentStatus = "draft"
	StatusScheduled ContentStatus = "scheduled"
	StatusPublished ContentStatus = "published"
)

type CaptionStatus string

const (
	CaptionNone       CaptionStatus = "none"
	CaptionPending    CaptionStatus = "pending"
	CaptionProcessing CaptionStatus = "processing"
	CaptionCompleted  CaptionStatus = "completed"
	CaptionFailed     CaptionStatus = "failed"
)

// ContentItem is a post or a video. Both kinds share one table so the one-per-day
// slot rule is checked against a single set of rows.
type ContentItem struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	Kind          ContentKind   `json:"kind"`
	MediaRefs     []string      `json:"mediaRefs"`
	Caption       string        `json:"caption"`
	Hashtags      []string      `json:"hashtags"`
	Platforms     []string      `json:"platforms"`
	Status        ContentStatus `json:"status"`
	ScheduledAt   *time.Time    `json:"scheduledAt,omitempty"`
	AutoScheduled bool          `json:"autoScheduled"`
	CaptionStatus CaptionStatus `json:"captionStatus"`

	PublishReport *PublishReport `json:"publishReport,omitempty"`
	PublishedAt   *time.Time     `json:"publishedAt,omitempty"`

	LastPublishAttemptID *string    `json:"lastPublishAttemptId,omitempty"`
	LastPublishAttemptAt *time.Time `json:"lastPublishAttemptAt,omitempty"`

	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// OccupiesSlot reports whether the item blocks its calendar day for other items.
func (c *ContentItem) OccupiesSlot() bool {
	return c != nil && c.DeletedAt == nil && c.ScheduledAt != nil && c.Status != StatusDraft
}

// FirstMedia returns the primary media reference, or "" when the item has none.
func (c *ContentItem) FirstMedia() string {
	if c == nil || len(c.MediaRefs) == 0 {
		return ""
	}
	return c.MediaRefs[0]
}

type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
	CadenceCustom  Cadence = "custom"
)

// SchedulePreference is a user's auto-scheduling rule. Only one per user is active.
type SchedulePreference struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Cadence     Cadence        `json:"cadence"`
	TimeOfDay   string         `json:"timeOfDay"` // "HH:MM"
	Weekdays    []time.Weekday `json:"weekdays,omitempty"`
	CustomDates []time.Time    `json:"customDates,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	IsActive    bool           `json:"isActive"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountExpired AccountStatus = "expired"
	AccountRevoked AccountStatus = "revoked"
	AccountError   AccountStatus = "error"
)

// ConnectedAccount is a linked platform identity. CredentialRef is owned by the OAuth
// service and passed through to the platform client untouched.
type ConnectedAccount struct {
	ID                string        `json:"id"`
	UserID            string        `json:"userId"`
	Platform          string        `json:"platform"`
	ExternalAccountID string        `json:"externalAccountId"`
	DisplayName       *string       `json:"displayName,omitempty"`
	Status            AccountStatus `json:"status"`
	CredentialRef     string        `json:"-"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

type PlatformResult struct {
	Platform       string  `json:"platform"`
	AccountID      string  `json:"accountId,omitempty"`
	Success        bool    `json:"success"`
	ExternalPostID *string `json:"externalPostId,omitempty"`
	Error          *string `json:"error,omitempty"`
	DurationMs     int64   `json:"durationMs"`
}

// PublishReport is the per-platform outcome of one publish attempt.
type PublishReport struct {
	ItemID       string           `json:"itemId"`
	AttemptID    string           `json:"attemptId"`
	Results      []PlatformResult `json:"results"`
	SuccessCount int              `json:"successCount"`
	FailureCount int              `json:"failureCount"`
	StartedAt    time.Time        `json:"startedAt"`
	FinishedAt   time.Time        `json:"finishedAt"`
}

// Add appends a result and keeps the counters in sync.
func (r *PublishReport) Add(res PlatformResult) {
	r.Results = append(r.Results, res)
	if res.Success {
		r.SuccessCount++
	} else {
		r.FailureCount++
	}
}

type NotificationType string

const (
	NotifyPostScheduled          NotificationType = "post_scheduled"
	NotifyPostPublished          NotificationType = "post_published"
	NotifyPostPartiallyPublished NotificationType = "post_partially_published"
	NotifyPostFailed             NotificationType = "post_failed"
	NotifyNoConnectedAccounts    NotificationType = "no_connected_accounts"
	NotifyCaptionFailed          NotificationType = "caption_failed"
	NotifySlotUnavailable        NotificationType = "slot_unavailable"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationArchived NotificationStatus = "archived"
)

type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId"`
	Type      NotificationType   `json:"type"`
	ItemID    *string            `json:"itemId,omitempty"`
	Title     string             `json:"title"`
	Body      *string            `json:"body,omitempty"`
	Priority  Priority           `json:"priority"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	ReadAt    *time.Time         `json:"readAt,omitempty"`
	ExpiresAt *time.Time         `json:"expiresAt,omitempty"`
}
