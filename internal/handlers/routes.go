package handlers

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers the scheduling, publishing and notification routes.
func RegisterRoutes(h *Handler, r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")

	// Slots and schedule preferences
	r.HandleFunc("/api/slots/user/{userId}", h.AllocateSlots).Methods("POST")
	r.HandleFunc("/api/schedule-preferences/user/{userId}", h.GetSchedulePreference).Methods("GET")
	r.HandleFunc("/api/schedule-preferences/user/{userId}", h.PutSchedulePreference).Methods("PUT")

	// Content items. Fixed segments are registered before {itemId} patterns.
	r.HandleFunc("/api/content/user/{userId}", h.CreateContentForUser).Methods("POST")
	r.HandleFunc("/api/content/schedule-bulk/user/{userId}", h.ScheduleBulkForUser).Methods("POST")
	r.HandleFunc("/api/content/{itemId}/user/{userId}", h.GetContentForUser).Methods("GET")
	r.HandleFunc("/api/content/{itemId}/user/{userId}", h.DeleteContentForUser).Methods("DELETE")
	r.HandleFunc("/api/content/{itemId}/schedule/user/{userId}", h.ScheduleContentForUser).Methods("POST")
	r.HandleFunc("/api/content/{itemId}/unschedule/user/{userId}", h.UnscheduleContentForUser).Methods("POST")
	r.HandleFunc("/api/content/{itemId}/publish-now/user/{userId}", h.PublishNowForUser).Methods("POST")
	r.HandleFunc("/api/content/{itemId}/caption/user/{userId}", h.RequestCaptionForUser).Methods("POST")

	// Notifications
	r.HandleFunc("/api/notifications/user/{userId}", h.ListNotificationsForUser).Methods("GET")
	r.HandleFunc("/api/notifications/read-all/user/{userId}", h.MarkAllNotificationsReadForUser).Methods("POST")
	r.HandleFunc("/api/notifications/bulk/user/{userId}", h.BulkUpdateNotificationsForUser).Methods("POST")
	r.HandleFunc("/api/notifications/{id}/read/user/{userId}", h.MarkNotificationReadForUser).Methods("POST")
}
