package handler

import (
	"net/http"
	"strings"

	"github.com/classfeed/internal/config"
	"github.com/classfeed/internal/middleware"
	"github.com/classfeed/internal/session"
	"github.com/classfeed/internal/ws"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter собирает локальный HTTP для UI: REST поверх сторов и push-канал /ws.
func NewRouter(cfg *config.Config, sessions *session.Manager, hub *ws.Hub) http.Handler {
	sessionH := NewSessionHandler(sessions)
	notifH := NewNotificationHandler(sessions, cfg.RequestTimeout)
	groupH := NewGroupHandler(sessions, cfg.RequestTimeout)
	configH := NewConfigHandler(cfg)
	wsH := NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitWrites(0))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/ws", wsH.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", configH.GetClientConfig)

		r.Post("/session", sessionH.Login)
		r.Get("/session", sessionH.Status)
		r.Delete("/session", sessionH.Logout)

		r.Get("/prefs/dark-mode", sessionH.GetDarkMode)
		r.Put("/prefs/dark-mode", sessionH.SetDarkMode)

		r.Get("/notifications", notifH.List)
		r.Post("/notifications/older", notifH.LoadOlder)
		r.Post("/notifications/recent", notifH.ShowRecent)
		r.Post("/notifications/clear", notifH.ClearAll)
		r.Post("/notifications/{id}/read", notifH.MarkRead)

		r.Get("/groups", groupH.List)
		r.Post("/groups", groupH.Create)
		r.Post("/groups/{id}/invite", groupH.Invite)
		r.Get("/groups/{id}/messages", groupH.Messages)
		r.Post("/groups/{id}/messages", groupH.Send)

		r.Get("/invitations", groupH.Invitations)
		r.Post("/invitations/{groupId}", groupH.RespondInvite)
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
