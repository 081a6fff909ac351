package model

type ChatGroup struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationIgnored  InvitationStatus = "ignored"
)

// GroupInvitation остаётся в списке, пока сервер не подтвердит ответ.
type GroupInvitation struct {
	Group     ChatGroup        `json:"group"`
	InvitedBy string           `json:"invited_by"`
	Status    InvitationStatus `json:"status"`
}

type ChatMessageType string

const (
	ChatMessageNormal ChatMessageType = "normal"
	ChatMessageSystem ChatMessageType = "group_system_message"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusConfirmed MessageStatus = "confirmed"
)

type Sender struct {
	Username string `json:"username"`
	Fullname string `json:"fullname"`
}

type ChatMessage struct {
	ID        ID              `json:"id,omitempty"`
	GroupID   ID              `json:"group_id"`
	Sender    Sender          `json:"sender"`
	Body      MessageBody     `json:"body"`
	Timestamp string          `json:"timestamp"`
	Type      ChatMessageType `json:"type"`
	// ClientRef связывает эхо сервера с локальной отправкой.
	ClientRef string        `json:"client_ref,omitempty"`
	Status    MessageStatus `json:"status"`
}
