package handler

import (
	"net/http"

	"github.com/classfeed/internal/config"
)

// ConfigHandler отдаёт UI публичные параметры клиента (без токенов).
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type reconnectConfig struct {
	BaseDelayMs int64   `json:"base_delay_ms"`
	MaxDelayMs  int64   `json:"max_delay_ms"`
	Multiplier  float64 `json:"multiplier"`
	MaxAttempts int     `json:"max_attempts"`
}

// GetClientConfig возвращает адреса бэкенда и политику переподключения сокетов.
func (h *ConfigHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	rc := h.cfg.Reconnect
	writeJSON(w, http.StatusOK, map[string]any{
		"backend_url": h.cfg.BackendURL,
		"socket_url":  h.cfg.SocketURL,
		"reconnect": reconnectConfig{
			BaseDelayMs: rc.BaseDelay.Milliseconds(),
			MaxDelayMs:  rc.MaxDelay.Milliseconds(),
			Multiplier:  rc.Multiplier,
			MaxAttempts: rc.MaxAttempts,
		},
	})
}
