package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/scheduling"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/sirupsen/logrus"
)

// Publisher is the part of publisher.Publisher the HTTP layer calls.
type Publisher interface {
	Publish(ctx context.Context, itemID string) (*models.PublishReport, error)
}

type Handler struct {
	content       *scheduling.Service
	publisher     Publisher
	notifications *notify.Notifier
	log           logrus.FieldLogger
}

type Deps struct {
	Content       *scheduling.Service
	Publisher     Publisher
	Notifications *notify.Notifier
	Logger        logrus.FieldLogger
}

func New(d Deps) *Handler {
	return &Handler{
		content:       d.Content,
		publisher:     d.Publisher,
		notifications: d.Notifications,
		log:           logging.OrDiscard(d.Logger),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type allocateSlotsRequest struct {
	Count         int        `json:"count"`
	From          *time.Time `json:"from,omitempty"`
	UsePreference *bool      `json:"usePreference,omitempty"`
}

// AllocateSlots previews the next free slots for a user without assigning them.
func (h *Handler) AllocateSlots(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var req allocateSlotsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	usePref := req.UsePreference == nil || *req.UsePreference
	slots, err := h.content.AllocateSlots(r.Context(), userID, req.Count, req.From, usePref)
	if err != nil {
		h.log.WithError(err).WithField("userId", userID).Warn("[Slots][Allocate] failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (h *Handler) GetSchedulePreference(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	pref, err := h.content.ActivePreference(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preference": pref})
}

func (h *Handler) PutSchedulePreference(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut) {
		return
	}
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var in scheduling.PreferenceInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pref, err := h.content.SavePreference(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preference": pref})
}

func (h *Handler) CreateContentForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var in scheduling.CreateItemInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.content.CreateItem(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) GetContentForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID, itemID := pathVar(r, "userId"), pathVar(r, "itemId")
	if userID == "" || itemID == "" {
		writeError(w, http.StatusBadRequest, "userId and itemId are required")
		return
	}
	item, err := h.content.GetItem(r.Context(), userID, itemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) ScheduleContentForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, itemID := pathVar(r, "userId"), pathVar(r, "itemId")
	if userID == "" || itemID == "" {
		writeError(w, http.StatusBadRequest, "userId and itemId are required")
		return
	}
	var req scheduling.ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.content.ScheduleItem(r.Context(), userID, itemID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) ScheduleBulkForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var req scheduling.BulkScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.content.ScheduleBulk(r.Context(), userID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) UnscheduleContentForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, itemID := pathVar(r, "userId"), pathVar(r, "itemId")
	if userID == "" || itemID == "" {
		writeError(w, http.StatusBadRequest, "userId and itemId are required")
		return
	}
	item, err := h.content.UnscheduleItem(r.Context(), userID, itemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteContentForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}
	userID, itemID := pathVar(r, "userId"), pathVar(r, "itemId")
	if userID == "" || itemID == "" {
		writeError(w, http.StatusBadRequest, "userId and itemId are required")
		return
	}
	if err := h.content.DeleteItem(r.Context(), userID, itemID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// PublishNowForUser publishes an item immediately, outside its schedule. The response is the
// publish report; platform failures are inside the report, not HTTP errors.
func (h *Handler) PublishNowForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, itemID := pathVar(r, "userId"), pathVar(r, "itemId")
	if userID == "" || itemID == "" {
		writeError(w, http.StatusBadRequest, "userId and itemId are required")
		return
	}
	if _, err := h.content.GetItem(r.Context(), userID, itemID); err != nil {
		writeDomainError(w, err)
		return
	}
	report, err := h.publisher.Publish(r.Context(), itemID)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"userId": userID, "itemId": itemID}).Warn("[PublishNow] failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) RequestCaptionForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, itemID := pathVar(r, "userId"), pathVar(r, "itemId")
	if userID == "" || itemID == "" {
		writeError(w, http.StatusBadRequest, "userId and itemId are required")
		return
	}
	queued, err := h.content.RequestCaption(r.Context(), userID, itemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}

func (h *Handler) ListNotificationsForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	limit := parseLimit(r, 50, 1, 200)
	if limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	onlyUnread := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("unread"))) == "true"

	out, err := h.notifications.List(r.Context(), userID, store.NotificationFilter{UnreadOnly: onlyUnread, Limit: limit})
	if err != nil {
		h.log.WithError(err).WithField("userId", userID).Error("[Notifications][List] query error")
		writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []*models.Notification{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) MarkNotificationReadForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, id := pathVar(r, "userId"), pathVar(r, "id")
	if userID == "" || id == "" {
		writeError(w, http.StatusBadRequest, "userId and id are required")
		return
	}
	if err := h.notifications.MarkRead(r.Context(), userID, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) MarkAllNotificationsReadForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	n, err := h.notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": n})
}

type bulkNotificationsRequest struct {
	IDs    []string          `json:"ids"`
	Action notify.BulkAction `json:"action"`
}

func (h *Handler) BulkUpdateNotificationsForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var req bulkNotificationsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.notifications.BulkUpdate(r.Context(), userID, req.IDs, req.Action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": n})
}
