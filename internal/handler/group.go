package handler

import (
	"net/http"
	"time"

	"github.com/classfeed/internal/command"
	"github.com/classfeed/internal/groupchat"
	"github.com/classfeed/internal/model"
	"github.com/classfeed/internal/session"
	"github.com/go-chi/chi/v5"
)

type GroupHandler struct {
	sessions *session.Manager
	waitFor  time.Duration
}

func NewGroupHandler(sessions *session.Manager, waitFor time.Duration) *GroupHandler {
	return &GroupHandler{sessions: sessions, waitFor: waitFor}
}

type CreateGroupRequest struct {
	Name     string   `json:"name" validate:"required"`
	Invitees []string `json:"invitees" validate:"dive,required"`
}

type InviteRequest struct {
	Usernames []string `json:"usernames" validate:"required,min=1"`
}

type RespondInviteRequest struct {
	Response groupchat.Response `json:"response" validate:"oneof=accept ignore"`
}

// SendMessageRequest: текст или shared_questions.
type SendMessageRequest struct {
	Text            string                        `json:"text"`
	SharedQuestions *model.SharedQuestionsPayload `json:"shared_questions"`
	// Policy: "confirmed" (по умолчанию) или "optimistic".
	Policy string `json:"policy" validate:"omitempty,oneof=confirmed optimistic"`
}

func (h *GroupHandler) stores(w http.ResponseWriter) (*groupchat.Store, bool) {
	s, err := h.sessions.Current()
	if err != nil {
		writeFailure(w, err)
		return nil, false
	}
	return s.Groups, true
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	g, ok := h.stores(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g.Groups())
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	g, ok := h.stores(w)
	if !ok {
		return
	}
	var req CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, err := g.CreateGroup(req.Name, req.Invitees)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeCommand(w, r, cmd, h.waitFor)
}

func (h *GroupHandler) Invite(w http.ResponseWriter, r *http.Request) {
	g, ok := h.stores(w)
	if !ok {
		return
	}
	var req InviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, err := g.InviteToGroup(model.ID(chi.URLParam(r, "id")), req.Usernames)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeCommand(w, r, cmd, h.waitFor)
}

func (h *GroupHandler) Messages(w http.ResponseWriter, r *http.Request) {
	g, ok := h.stores(w)
	if !ok {
		return
	}
	id := model.ID(chi.URLParam(r, "id"))
	if queryBool(r, "refresh") {
		if err := g.RequestHistory(id); err != nil {
			writeFailure(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, g.Messages(id))
}

func (h *GroupHandler) Send(w http.ResponseWriter, r *http.Request) {
	g, ok := h.stores(w)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	policy := command.Confirmed
	if req.Policy == command.Optimistic.String() {
		policy = command.Optimistic
	}
	id := model.ID(chi.URLParam(r, "id"))
	var (
		cmd *command.Command
		err error
	)
	if req.SharedQuestions != nil {
		cmd, err = g.ShareQuestions(id, *req.SharedQuestions, policy)
	} else {
		cmd, err = g.SendGroupMessage(id, model.TextBody(req.Text), policy)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeCommand(w, r, cmd, h.waitFor)
}

func (h *GroupHandler) Invitations(w http.ResponseWriter, r *http.Request) {
	g, ok := h.stores(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g.Invitations())
}

func (h *GroupHandler) RespondInvite(w http.ResponseWriter, r *http.Request) {
	g, ok := h.stores(w)
	if !ok {
		return
	}
	var req RespondInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, err := g.RespondToGroupInvite(model.ID(chi.URLParam(r, "groupId")), req.Response)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeCommand(w, r, cmd, h.waitFor)
}
