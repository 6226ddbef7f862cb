package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HandleListNotifications returns the caller's notification list plus
// unread count.
func (s *Server) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	email := reviewerEmail(r)
	if email == "" {
		errorJSON(w, "missing identity", "FORBIDDEN", http.StatusForbidden)
		return
	}

	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	limit, _ := parsePagination(r)

	notifications, err := s.Notify.List(r.Context(), email, unreadOnly, limit)
	if err != nil {
		internalError(w, "failed to list notifications", err)
		return
	}
	unread, err := s.Notify.UnreadCount(r.Context(), email)
	if err != nil {
		internalError(w, "failed to count unread notifications", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"unread_count":  unread,
	})
}

// HandleMarkNotificationRead marks a single notification as read.
func (s *Server) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	email := reviewerEmail(r)
	if email == "" {
		errorJSON(w, "missing identity", "FORBIDDEN", http.StatusForbidden)
		return
	}
	notifID := chi.URLParam(r, "id")

	found, err := s.Notify.MarkOneRead(r.Context(), email, notifID)
	if err != nil {
		internalError(w, "failed to mark notification read", err)
		return
	}
	if !found {
		errorJSON(w, "notification not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"read": true})
}
