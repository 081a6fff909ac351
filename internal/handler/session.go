package handler

import (
	"net/http"

	"github.com/classfeed/internal/session"
)

type SessionHandler struct {
	sessions *session.Manager
}

func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Login начинает сессию пользователя: оба сокета, сторы, серия дней.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds session.Credentials
	if !decodeJSON(w, r, &creds) {
		return
	}
	if _, err := h.sessions.Login(r.Context(), creds); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Status())
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Status())
}

type darkModeBody struct {
	Enabled bool `json:"enabled"`
}

func (h *SessionHandler) GetDarkMode(w http.ResponseWriter, r *http.Request) {
	on, err := h.sessions.DarkMode(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, darkModeBody{Enabled: on})
}

func (h *SessionHandler) SetDarkMode(w http.ResponseWriter, r *http.Request) {
	var body darkModeBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.sessions.SetDarkMode(r.Context(), body.Enabled); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
