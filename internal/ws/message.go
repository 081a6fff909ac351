package ws

import "encoding/json"

// OutgoingMessage: событие для UI (снимок стора или смена состояния).
type OutgoingMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// IncomingMessage: команда от UI. Понимается только "resync": повторить текущее состояние.
type IncomingMessage struct {
	Type string `json:"type"`
}

const incomingResync = "resync"

func encode(msg OutgoingMessage) ([]byte, error) {
	return json.Marshal(msg)
}
