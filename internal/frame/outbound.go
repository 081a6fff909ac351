package frame

import "github.com/classfeed/internal/model"

type Action string

const (
	ActionMarkRead         Action = "mark_read"
	ActionCreateGroup      Action = "create_group"
	ActionInviteToGroup    Action = "invite_to_group"
	ActionRespondInvite    Action = "respond_group_invite"
	ActionSendGroupMessage Action = "send_group_message"
	ActionListGroups       Action = "list_groups"
	ActionGroupHistory     Action = "group_history"
)

type MarkRead struct {
	Action         Action   `json:"action"`
	NotificationID model.ID `json:"notification_id"`
}

func NewMarkRead(id model.ID) MarkRead {
	return MarkRead{Action: ActionMarkRead, NotificationID: id}
}

type CreateGroup struct {
	Action    Action   `json:"action"`
	Name      string   `json:"name"`
	Invitees  []string `json:"invitees"`
	ClientRef string   `json:"client_ref"`
}

type InviteToGroup struct {
	Action    Action   `json:"action"`
	GroupID   model.ID `json:"group_id"`
	Usernames []string `json:"usernames"`
	ClientRef string   `json:"client_ref"`
}

type RespondInvite struct {
	Action    Action   `json:"action"`
	GroupID   model.ID `json:"group_id"`
	Response  string   `json:"response"`
	ClientRef string   `json:"client_ref"`
}

type SendGroupMessage struct {
	Action    Action            `json:"action"`
	GroupID   model.ID          `json:"group_id"`
	Body      model.MessageBody `json:"body"`
	ClientRef string            `json:"client_ref"`
}

type ListGroups struct {
	Action Action `json:"action"`
}

type GroupHistoryRequest struct {
	Action  Action   `json:"action"`
	GroupID model.ID `json:"group_id"`
}
