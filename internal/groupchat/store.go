// Package groupchat хранит группы, приглашения и сообщения одной сессии. Членство в группах
// знает только сервер: созданная группа или принятое приглашение появляются после
// подтверждения, не раньше.
package groupchat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/classfeed/internal/command"
	"github.com/classfeed/internal/frame"
	"github.com/classfeed/internal/logger"
	"github.com/classfeed/internal/model"
	"github.com/google/uuid"
)

const defaultPendingTimeout = 30 * time.Second

var (
	ErrRejected       = errors.New("groupchat: rejected by server")
	ErrPendingTimeout = errors.New("groupchat: no confirmation from server")
	ErrReset          = errors.New("groupchat: session reset")
)

// ValidationError возвращается до отправки чего-либо.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Transport отправляет один action-кадр.
type Transport interface {
	Send(v any) error
}

type Response string

const (
	Accept Response = "accept"
	Ignore Response = "ignore"
)

type EventKind string

const (
	EventGroups      EventKind = "groups"
	EventInvitations EventKind = "invitations"
	EventMessages    EventKind = "messages"
	EventError       EventKind = "error"
)

// Event сообщает подписчикам, какая часть стора изменилась.
type Event struct {
	Kind        EventKind               `json:"kind"`
	Groups      []model.ChatGroup       `json:"groups,omitempty"`
	Invitations []model.GroupInvitation `json:"invitations,omitempty"`
	GroupID     model.ID                `json:"group_id,omitempty"`
	Messages    []model.ChatMessage     `json:"messages,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

type pendingOp struct {
	cmd        *command.Command
	action     frame.Action
	groupID    model.ID
	response   Response
	optimistic bool
	timer      *time.Timer
}

type Options struct {
	// Self: отправитель оптимистичных сообщений и shared_by по умолчанию.
	Self model.Sender
	// PendingTimeout: сколько ждать подтверждения сервера.
	PendingTimeout time.Duration
}

type Store struct {
	transport Transport
	opts      Options
	nowFunc   func() time.Time

	mu          sync.Mutex
	groups      []model.ChatGroup
	invitations []model.GroupInvitation
	messages    map[model.ID][]model.ChatMessage
	pending     map[string]*pendingOp

	// pubMu упорядочивает сборку события и рассылку.
	pubMu  sync.Mutex
	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func NewStore(transport Transport, opts Options) *Store {
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = defaultPendingTimeout
	}
	return &Store{
		transport: transport,
		opts:      opts,
		nowFunc:   time.Now,
		messages:  make(map[model.ID][]model.ChatMessage),
		pending:   make(map[string]*pendingOp),
		subs:      make(map[int]func(Event)),
	}
}

// CreateGroup просит сервер создать группу. Группа добавляется, когда вернётся group_created
// с тем же client_ref.
func (s *Store) CreateGroup(name string, invitees []string) (*command.Command, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "group name is required"}
	}
	op := &pendingOp{cmd: command.New(string(frame.ActionCreateGroup)), action: frame.ActionCreateGroup}
	ref := s.register(op)
	err := s.transport.Send(frame.CreateGroup{
		Action:    frame.ActionCreateGroup,
		Name:      name,
		Invitees:  cleanUsernames(invitees),
		ClientRef: ref,
	})
	if err != nil {
		s.failPending(ref, err)
	}
	return op.cmd, nil
}

// InviteToGroup без ответа сервера: команда подтверждается, как только кадр записан.
func (s *Store) InviteToGroup(groupID model.ID, usernames []string) (*command.Command, error) {
	if groupID == "" {
		return nil, &ValidationError{Field: "group_id", Message: "no group selected"}
	}
	names := cleanUsernames(usernames)
	if len(names) == 0 {
		return nil, &ValidationError{Field: "usernames", Message: "no users to invite"}
	}
	cmd := command.New(string(frame.ActionInviteToGroup))
	err := s.transport.Send(frame.InviteToGroup{
		Action:    frame.ActionInviteToGroup,
		GroupID:   groupID,
		Usernames: names,
		ClientRef: uuid.New().String(),
	})
	if err != nil {
		cmd.Fail(err)
	} else {
		cmd.Confirm()
	}
	return cmd, nil
}

// RespondToGroupInvite принимает или игнорирует приглашение. Из списка оно уходит только
// после подтверждения сервера.
func (s *Store) RespondToGroupInvite(groupID model.ID, response Response) (*command.Command, error) {
	if response != Accept && response != Ignore {
		return nil, &ValidationError{Field: "response", Message: "response must be accept or ignore"}
	}
	s.mu.Lock()
	found := s.invitationIndexLocked(groupID) >= 0
	s.mu.Unlock()
	if !found {
		return nil, &ValidationError{Field: "group_id", Message: "no pending invitation for this group"}
	}
	op := &pendingOp{
		cmd:      command.New(string(frame.ActionRespondInvite)),
		action:   frame.ActionRespondInvite,
		groupID:  groupID,
		response: response,
	}
	ref := s.register(op)
	err := s.transport.Send(frame.RespondInvite{
		Action:    frame.ActionRespondInvite,
		GroupID:   groupID,
		Response:  string(response),
		ClientRef: ref,
	})
	if err != nil {
		s.failPending(ref, err)
	}
	return op.cmd, nil
}

// SendGroupMessage отправляет body в группу. С command.Confirmed сообщение появится по эху
// сервера; с command.Optimistic сразу добавляется pending-копия, эхо её заменяет.
func (s *Store) SendGroupMessage(groupID model.ID, body model.MessageBody, policy command.Policy) (*command.Command, error) {
	if groupID == "" {
		return nil, &ValidationError{Field: "group_id", Message: "no group selected"}
	}
	if body.Empty() {
		return nil, &ValidationError{Field: "body", Message: "message is empty"}
	}
	s.mu.Lock()
	known := s.groupIndexLocked(groupID) >= 0
	s.mu.Unlock()
	if !known {
		return nil, &ValidationError{Field: "group_id", Message: "unknown group"}
	}

	op := &pendingOp{
		cmd:        command.New(string(frame.ActionSendGroupMessage)),
		action:     frame.ActionSendGroupMessage,
		groupID:    groupID,
		optimistic: policy == command.Optimistic,
	}
	ref := s.register(op)
	if op.optimistic {
		s.mu.Lock()
		s.messages[groupID] = append(s.messages[groupID], model.ChatMessage{
			GroupID:   groupID,
			Sender:    s.opts.Self,
			Body:      body,
			Timestamp: s.nowFunc().UTC().Format(time.RFC3339),
			Type:      model.ChatMessageNormal,
			ClientRef: ref,
			Status:    model.MessageStatusPending,
		})
		s.mu.Unlock()
		s.publishMessages(groupID)
	}
	err := s.transport.Send(frame.SendGroupMessage{
		Action:    frame.ActionSendGroupMessage,
		GroupID:   groupID,
		Body:      body,
		ClientRef: ref,
	})
	if err != nil {
		s.failPending(ref, err)
	}
	return op.cmd, nil
}

// ShareQuestions отправляет shared_questions; shared_by по умолчанию текущий пользователь.
func (s *Store) ShareQuestions(groupID model.ID, p model.SharedQuestionsPayload, policy command.Policy) (*command.Command, error) {
	if len(p.Questions) == 0 {
		return nil, &ValidationError{Field: "questions", Message: "no questions selected"}
	}
	if p.SharedBy == "" {
		p.SharedBy = s.opts.Self.Username
	}
	return s.SendGroupMessage(groupID, model.SharedQuestionsBody(p), policy)
}

// Resync запрашивает полные списки групп и приглашений.
func (s *Store) Resync() error {
	return s.transport.Send(frame.ListGroups{Action: frame.ActionListGroups})
}

// RequestHistory запрашивает историю сообщений группы.
func (s *Store) RequestHistory(groupID model.ID) error {
	if groupID == "" {
		return &ValidationError{Field: "group_id", Message: "no group selected"}
	}
	return s.transport.Send(frame.GroupHistoryRequest{Action: frame.ActionGroupHistory, GroupID: groupID})
}

// Dispatch применяет кадр чата; остальные кадры игнорируются.
func (s *Store) Dispatch(f frame.Frame) {
	switch v := f.(type) {
	case *frame.GroupCreated:
		s.applyGroup(v.Group, v.ClientRef)
	case *frame.GroupJoined:
		s.applyJoined(v)
	case *frame.GroupInvitation:
		s.applyInvitation(v)
	case *frame.GroupInviteResponse:
		s.applyInviteResponse(v)
	case *frame.GroupMessage:
		s.applyMessage(v)
	case *frame.GroupList:
		s.mu.Lock()
		s.groups = dedupeGroups(v.Groups)
		s.mu.Unlock()
		s.publishGroups()
	case *frame.InvitationList:
		s.mu.Lock()
		s.invitations = s.invitations[:0]
		for _, inv := range v.Invitations {
			if inv.Status == "" {
				inv.Status = model.InvitationPending
			}
			if inv.Status == model.InvitationPending {
				s.invitations = append(s.invitations, inv)
			}
		}
		s.mu.Unlock()
		s.publishInvitations()
	case *frame.GroupHistory:
		s.applyHistory(v)
	case *frame.GroupError:
		s.applyError(v)
	default:
		logger.Debugf("groupchat: ignoring frame type=%s", f.FrameType())
	}
}

func (s *Store) applyGroup(g model.ChatGroup, ref string) {
	s.mu.Lock()
	if s.groupIndexLocked(g.ID) < 0 {
		s.groups = append(s.groups, g)
	}
	op := s.takeLocked(ref)
	s.mu.Unlock()
	if op != nil {
		op.cmd.Confirm()
	}
	s.publishGroups()
}

func (s *Store) applyJoined(v *frame.GroupJoined) {
	s.mu.Lock()
	if s.groupIndexLocked(v.Group.ID) < 0 {
		s.groups = append(s.groups, v.Group)
	}
	s.removeInvitationLocked(v.Group.ID)
	ops := s.takeResponsesLocked(v.Group.ID, v.ClientRef)
	s.mu.Unlock()
	for _, op := range ops {
		op.cmd.Confirm()
	}
	s.publishGroups()
	s.publishInvitations()
}

func (s *Store) applyInvitation(v *frame.GroupInvitation) {
	s.mu.Lock()
	if s.invitationIndexLocked(v.Group.ID) >= 0 || s.groupIndexLocked(v.Group.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.invitations = append(s.invitations, model.GroupInvitation{
		Group:     v.Group,
		InvitedBy: v.InvitedBy,
		Status:    model.InvitationPending,
	})
	s.mu.Unlock()
	s.publishInvitations()
}

// applyInviteResponse: подтверждение ответа. ignore завершается здесь, accept только по group_joined.
func (s *Store) applyInviteResponse(v *frame.GroupInviteResponse) {
	if Response(v.Action) != Ignore {
		return
	}
	s.mu.Lock()
	s.removeInvitationLocked(v.GroupID)
	ops := s.takeResponsesLocked(v.GroupID, v.ClientRef)
	s.mu.Unlock()
	for _, op := range ops {
		op.cmd.Confirm()
	}
	s.publishInvitations()
}

func (s *Store) applyMessage(v *frame.GroupMessage) {
	msg := v.ChatMessage()
	s.mu.Lock()
	list := s.messages[msg.GroupID]
	replaced := false
	for i := range list {
		if msg.ClientRef != "" && list[i].ClientRef == msg.ClientRef {
			list[i] = msg
			replaced = true
			break
		}
		if msg.ID != "" && list[i].ID == msg.ID {
			s.mu.Unlock()
			return
		}
	}
	if !replaced {
		list = append(list, msg)
	}
	s.messages[msg.GroupID] = list
	op := s.takeLocked(msg.ClientRef)
	s.mu.Unlock()
	if op != nil {
		op.cmd.Confirm()
	}
	s.publishMessages(msg.GroupID)
}

func (s *Store) applyHistory(v *frame.GroupHistory) {
	s.mu.Lock()
	msgs := make([]model.ChatMessage, 0, len(v.Messages))
	echoed := make(map[string]bool)
	var confirmed []*pendingOp
	for _, m := range v.Messages {
		cm := m.ChatMessage()
		cm.GroupID = v.GroupID
		msgs = append(msgs, cm)
		if cm.ClientRef == "" {
			continue
		}
		echoed[cm.ClientRef] = true
		if op := s.takeLocked(cm.ClientRef); op != nil {
			confirmed = append(confirmed, op)
		}
	}
	// pending-копии, чьё эхо уже есть в истории, убираются.
	for _, m := range s.messages[v.GroupID] {
		if m.Status == model.MessageStatusPending && !echoed[m.ClientRef] {
			msgs = append(msgs, m)
		}
	}
	s.messages[v.GroupID] = msgs
	s.mu.Unlock()
	for _, op := range confirmed {
		op.cmd.Confirm()
	}
	s.publishMessages(v.GroupID)
}

func (s *Store) applyError(v *frame.GroupError) {
	logger.Warnf("groupchat: server rejected %s: %s", v.Action, v.Message)
	if v.ClientRef != "" {
		s.failPending(v.ClientRef, errors.Join(ErrRejected, errors.New(v.Message)))
	}
	s.publish(Event{Kind: EventError, Error: v.Message})
}

func (s *Store) Groups() []model.ChatGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatGroup{}, s.groups...)
}

func (s *Store) Group(id model.ID) (model.ChatGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.groupIndexLocked(id)
	if i < 0 {
		return model.ChatGroup{}, false
	}
	return s.groups[i], true
}

func (s *Store) Invitations() []model.GroupInvitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.GroupInvitation{}, s.invitations...)
}

func (s *Store) Messages(groupID model.ID) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage{}, s.messages[groupID]...)
}

// Reset очищает всё и проваливает ожидающие команды; вызывается при выходе.
func (s *Store) Reset() {
	s.mu.Lock()
	ops := make([]*pendingOp, 0, len(s.pending))
	for _, op := range s.pending {
		ops = append(ops, op)
	}
	s.pending = make(map[string]*pendingOp)
	s.groups = nil
	s.invitations = nil
	s.messages = make(map[model.ID][]model.ChatMessage)
	s.mu.Unlock()
	for _, op := range ops {
		op.timer.Stop()
		op.cmd.Fail(ErrReset)
	}
	s.publishGroups()
	s.publishInvitations()
}

// Subscribe подписывает fn на изменения и возвращает функцию отписки.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) register(op *pendingOp) string {
	ref := uuid.New().String()
	s.mu.Lock()
	s.pending[ref] = op
	op.timer = time.AfterFunc(s.opts.PendingTimeout, func() { s.failPending(ref, ErrPendingTimeout) })
	s.mu.Unlock()
	return ref
}

func (s *Store) takeLocked(ref string) *pendingOp {
	if ref == "" {
		return nil
	}
	op, ok := s.pending[ref]
	if !ok {
		return nil
	}
	delete(s.pending, ref)
	op.timer.Stop()
	return op
}

// takeResponsesLocked забирает ожидающие ответы на приглашение groupID (по ref или по группе).
func (s *Store) takeResponsesLocked(groupID model.ID, ref string) []*pendingOp {
	var out []*pendingOp
	if op := s.takeLocked(ref); op != nil {
		out = append(out, op)
	}
	for r, op := range s.pending {
		if op.action == frame.ActionRespondInvite && op.groupID == groupID {
			delete(s.pending, r)
			op.timer.Stop()
			out = append(out, op)
		}
	}
	return out
}

// failPending проваливает операцию ref и убирает её оптимистичное сообщение.
func (s *Store) failPending(ref string, err error) {
	s.mu.Lock()
	op := s.takeLocked(ref)
	if op == nil {
		s.mu.Unlock()
		return
	}
	removed := false
	if op.optimistic {
		list := s.messages[op.groupID]
		for i := range list {
			if list[i].ClientRef == ref && list[i].Status == model.MessageStatusPending {
				s.messages[op.groupID] = append(list[:i:i], list[i+1:]...)
				removed = true
				break
			}
		}
	}
	s.mu.Unlock()
	logger.Warnf("groupchat: %s failed: %v", op.action, err)
	op.cmd.Fail(err)
	if removed {
		s.publishMessages(op.groupID)
	}
}

func (s *Store) groupIndexLocked(id model.ID) int {
	for i := range s.groups {
		if s.groups[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) invitationIndexLocked(groupID model.ID) int {
	for i := range s.invitations {
		if s.invitations[i].Group.ID == groupID {
			return i
		}
	}
	return -1
}

func (s *Store) removeInvitationLocked(groupID model.ID) {
	if i := s.invitationIndexLocked(groupID); i >= 0 {
		s.invitations = append(s.invitations[:i:i], s.invitations[i+1:]...)
	}
}

func (s *Store) publishGroups() {
	s.publishFunc(func() Event { return Event{Kind: EventGroups, Groups: s.Groups()} })
}

func (s *Store) publishInvitations() {
	s.publishFunc(func() Event { return Event{Kind: EventInvitations, Invitations: s.Invitations()} })
}

func (s *Store) publishMessages(groupID model.ID) {
	s.publishFunc(func() Event {
		return Event{Kind: EventMessages, GroupID: groupID, Messages: s.Messages(groupID)}
	})
}

func (s *Store) publish(ev Event) {
	s.publishFunc(func() Event { return ev })
}

// publishFunc собирает событие под pubMu, поэтому параллельные изменения приходят по порядку.
func (s *Store) publishFunc(build func() Event) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	ev := build()
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func cleanUsernames(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, u := range in {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func dedupeGroups(in []model.ChatGroup) []model.ChatGroup {
	seen := make(map[model.ID]bool, len(in))
	out := make([]model.ChatGroup, 0, len(in))
	for _, g := range in {
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		out = append(out, g)
	}
	return out
}
