// Package frame разбирает входящие кадры сокета в закрытый набор типов и собирает исходящие
// action-кадры. Каждому известному type соответствует ровно одна структура, прочие
// становятся Unknown: вызывающий пишет их в лог и отбрасывает.
package frame

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/classfeed/internal/logger"
	"github.com/classfeed/internal/model"
)

type Type string

const (
	TypeHomeworkNotification Type = "homework_notification"
	TypeTeacherAck           Type = "teacher_ack"
	TypeClassworkCompletion  Type = "classwork_completion_notification"
	TypeHomeworkCompletion   Type = "homework_completion_notification"

	TypeGroupCreated        Type = "group_created"
	TypeGroupJoined         Type = "group_joined"
	TypeGroupInvitation     Type = "group_invitation"
	TypeGroupInviteResponse Type = "group_invite_response"
	TypeGroupMessage        Type = "group_message"
	TypeGroupSystemMessage  Type = "group_system_message"
	TypeGroupList           Type = "group_list"
	TypeInvitationList      Type = "invitation_list"
	TypeGroupHistory        Type = "group_history"
	TypeGroupError          Type = "group_error"
)

// Frame реализуют только типы этого пакета.
type Frame interface {
	FrameType() Type
	RawBytes() json.RawMessage
	setRaw(raw json.RawMessage)
}

type base struct {
	raw json.RawMessage
}

func (b *base) RawBytes() json.RawMessage  { return b.raw }
func (b *base) setRaw(raw json.RawMessage) { b.raw = raw }

type HomeworkInfo struct {
	Title        string `json:"title"`
	Attachment   string `json:"attachment"`
	DateAssigned string `json:"date_assigned"`
}

type NotificationInfo struct {
	ID        model.ID `json:"id"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
}

type HomeworkNotification struct {
	base
	Role         string           `json:"role"`
	Notification NotificationInfo `json:"notification"`
	Homework     HomeworkInfo     `json:"homework"`
}

type TeacherAck struct {
	base
	Title        string   `json:"title"`
	Message      string   `json:"message"`
	Timestamp    string   `json:"timestamp"`
	ClassWorkID  model.ID `json:"class_work_id"`
	HomeworkID   model.ID `json:"homework_id"`
	SubmissionID model.ID `json:"submission_id"`
}

type completion struct {
	base
	SubmissionID model.ID `json:"submission_id"`
	Message      string   `json:"message"`
	Summary      string   `json:"summary"`
	Timestamp    string   `json:"timestamp"`
}

type ClassworkCompletion struct{ completion }

type HomeworkCompletion struct{ completion }

type GroupCreated struct {
	base
	Group     model.ChatGroup `json:"group"`
	ClientRef string          `json:"client_ref"`
}

type GroupJoined struct {
	base
	Group     model.ChatGroup `json:"group"`
	ClientRef string          `json:"client_ref"`
}

type GroupInvitation struct {
	base
	Group     model.ChatGroup `json:"group"`
	InvitedBy string          `json:"invited_by"`
}

// GroupInviteResponse подтверждает accept или ignore этого пользователя.
type GroupInviteResponse struct {
	base
	GroupID   model.ID `json:"group_id"`
	Action    string   `json:"action"`
	ClientRef string   `json:"client_ref"`
}

// GroupMessage: одно сообщение чата. Новые серверы шлют Body, старые только Message, где может
// лежать JSON shared_questions. Body хранится сырым: нечитаемое тело становится текстом,
// а кадр не теряется.
type GroupMessage struct {
	base
	ID        model.ID        `json:"id"`
	GroupID   model.ID        `json:"group_id"`
	Sender    model.Sender    `json:"sender"`
	Body      json.RawMessage `json:"body"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
	ClientRef string          `json:"client_ref"`
	Type      Type            `json:"type"`
}

// System: сообщение сгенерировал сервер (вход, выход, переименование).
func (m *GroupMessage) System() bool { return m.Type == TypeGroupSystemMessage }

// ChatMessage переводит кадр в хранимое сообщение.
func (m *GroupMessage) ChatMessage() model.ChatMessage {
	body := m.body()
	typ := model.ChatMessageNormal
	if m.System() {
		typ = model.ChatMessageSystem
	}
	return model.ChatMessage{
		ID:        m.ID,
		GroupID:   m.GroupID,
		Sender:    m.Sender,
		Body:      body,
		Timestamp: m.Timestamp,
		Type:      typ,
		ClientRef: m.ClientRef,
		Status:    model.MessageStatusConfirmed,
	}
}

// body разбирает Body. Если его нет или он не читается, берётся Message (или сам Body как текст).
func (m *GroupMessage) body() model.MessageBody {
	raw := bytes.TrimSpace(m.Body)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return model.ParseLegacyMessage(m.Message)
	}
	var b model.MessageBody
	err := json.Unmarshal(raw, &b)
	if err == nil {
		return b
	}
	logger.Warnf("frame: group %s message %s: unreadable body, showing as text: %v", m.GroupID, m.ID, err)
	if m.Message != "" {
		return model.ParseLegacyMessage(m.Message)
	}
	return model.TextBody(string(raw))
}

type GroupList struct {
	base
	Groups []model.ChatGroup `json:"groups"`
}

type InvitationList struct {
	base
	Invitations []model.GroupInvitation `json:"invitations"`
}

type GroupHistory struct {
	base
	GroupID  model.ID        `json:"group_id"`
	Messages []*GroupMessage `json:"messages"`
}

// GroupError: сервер отклонил действие; запрос находится по ClientRef.
type GroupError struct {
	base
	Action    string `json:"action"`
	Message   string `json:"message"`
	ClientRef string `json:"client_ref"`
}

// Unknown: кадр с неизвестным type.
type Unknown struct {
	base
	Type Type `json:"type"`
}

func (*HomeworkNotification) FrameType() Type { return TypeHomeworkNotification }
func (*TeacherAck) FrameType() Type           { return TypeTeacherAck }
func (*ClassworkCompletion) FrameType() Type  { return TypeClassworkCompletion }
func (*HomeworkCompletion) FrameType() Type   { return TypeHomeworkCompletion }
func (*GroupCreated) FrameType() Type         { return TypeGroupCreated }
func (*GroupJoined) FrameType() Type          { return TypeGroupJoined }
func (*GroupInvitation) FrameType() Type      { return TypeGroupInvitation }
func (*GroupInviteResponse) FrameType() Type  { return TypeGroupInviteResponse }
func (*GroupList) FrameType() Type            { return TypeGroupList }
func (*InvitationList) FrameType() Type       { return TypeInvitationList }
func (*GroupHistory) FrameType() Type         { return TypeGroupHistory }
func (*GroupError) FrameType() Type           { return TypeGroupError }
func (u *Unknown) FrameType() Type            { return u.Type }

func (m *GroupMessage) FrameType() Type {
	if m.System() {
		return TypeGroupSystemMessage
	}
	return TypeGroupMessage
}

var constructors = map[Type]func() Frame{
	TypeHomeworkNotification: func() Frame { return &HomeworkNotification{} },
	TypeTeacherAck:           func() Frame { return &TeacherAck{} },
	TypeClassworkCompletion:  func() Frame { return &ClassworkCompletion{} },
	TypeHomeworkCompletion:   func() Frame { return &HomeworkCompletion{} },
	TypeGroupCreated:         func() Frame { return &GroupCreated{} },
	TypeGroupJoined:          func() Frame { return &GroupJoined{} },
	TypeGroupInvitation:      func() Frame { return &GroupInvitation{} },
	TypeGroupInviteResponse:  func() Frame { return &GroupInviteResponse{} },
	TypeGroupMessage:         func() Frame { return &GroupMessage{} },
	TypeGroupSystemMessage:   func() Frame { return &GroupMessage{} },
	TypeGroupList:            func() Frame { return &GroupList{} },
	TypeInvitationList:       func() Frame { return &InvitationList{} },
	TypeGroupHistory:         func() Frame { return &GroupHistory{} },
	TypeGroupError:           func() Frame { return &GroupError{} },
}

// Known перечисляет все известные type.
func Known() []Type {
	out := make([]Type, 0, len(constructors))
	for t := range constructors {
		out = append(out, t)
	}
	return out
}

// Decode разбирает один кадр. Битый JSON: ошибка, неизвестный type: нет.
func Decode(raw []byte) (Frame, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	ctor, ok := constructors[head.Type]
	if !ok {
		u := &Unknown{Type: head.Type}
		u.setRaw(append(json.RawMessage(nil), raw...))
		return u, nil
	}
	f := ctor()
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", head.Type, err)
	}
	f.setRaw(append(json.RawMessage(nil), raw...))
	return f, nil
}
