package handler

import (
	"net/http"
	"time"

	"github.com/classfeed/internal/model"
	"github.com/classfeed/internal/session"
	"github.com/go-chi/chi/v5"
)

type NotificationHandler struct {
	sessions *session.Manager
	waitFor  time.Duration
}

func NewNotificationHandler(sessions *session.Manager, waitFor time.Duration) *NotificationHandler {
	return &NotificationHandler{sessions: sessions, waitFor: waitFor}
}

func (h *NotificationHandler) current(w http.ResponseWriter) (*session.Session, bool) {
	s, err := h.sessions.Current()
	if err != nil {
		writeFailure(w, err)
		return nil, false
	}
	return s, true
}

// List отдаёт отображаемый список (live или страница истории) и счётчик непрочитанных.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := h.current(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Notifications.Snapshot())
}

func (h *NotificationHandler) LoadOlder(w http.ResponseWriter, r *http.Request) {
	s, ok := h.current(w)
	if !ok {
		return
	}
	if err := s.Notifications.LoadOlder(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Notifications.Snapshot())
}

func (h *NotificationHandler) ShowRecent(w http.ResponseWriter, r *http.Request) {
	s, ok := h.current(w)
	if !ok {
		return
	}
	s.Notifications.ShowRecent()
	writeJSON(w, http.StatusOK, s.Notifications.Snapshot())
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	s, ok := h.current(w)
	if !ok {
		return
	}
	id := model.ID(chi.URLParam(r, "id"))
	writeCommand(w, r, s.Notifications.MarkRead(r.Context(), id), h.waitFor)
}

func (h *NotificationHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	s, ok := h.current(w)
	if !ok {
		return
	}
	writeCommand(w, r, s.Notifications.ClearAll(r.Context()), h.waitFor)
}
