package groupchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/classfeed/internal/command"
	"github.com/classfeed/internal/frame"
	"github.com/classfeed/internal/model"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []any
	err  error
}

func (t *fakeTransport) Send(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, v)
	return nil
}

func (t *fakeTransport) last() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

func newTestStore() (*Store, *fakeTransport) {
	tr := &fakeTransport{}
	s := NewStore(tr, Options{Self: model.Sender{Username: "amy", Fullname: "Amy Pond"}})
	return s, tr
}

func decode(t *testing.T, raw string) frame.Frame {
	t.Helper()
	f, err := frame.Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func waitCommand(t *testing.T, c *command.Command) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("command %s did not resolve", c.Name)
	}
	return err
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestCreateGroupWaitsForServer(t *testing.T) {
	s, tr := newTestStore()
	cmd, err := s.CreateGroup("  Physics  ", []string{"bob", " bob ", ""})
	if err != nil {
		t.Fatal(err)
	}
	sent, ok := tr.last().(frame.CreateGroup)
	if !ok {
		t.Fatalf("expected create_group frame, got %T", tr.last())
	}
	if sent.Name != "Physics" || len(sent.Invitees) != 1 || sent.ClientRef == "" {
		t.Errorf("unexpected frame: %+v", sent)
	}
	if len(s.Groups()) != 0 {
		t.Fatal("group must not appear before the server confirms it")
	}

	s.Dispatch(decode(t, `{"type":"group_created","group":{"id":9,"name":"Physics"},"client_ref":"`+sent.ClientRef+`"}`))
	if err := waitCommand(t, cmd); err != nil {
		t.Fatal(err)
	}
	if g, ok := s.Group("9"); !ok || g.Name != "Physics" {
		t.Errorf("expected group 9, got %+v", s.Groups())
	}
}

func TestCreateGroupValidation(t *testing.T) {
	s, tr := newTestStore()
	_, err := s.CreateGroup("   ", nil)
	if !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if tr.last() != nil {
		t.Error("nothing must be sent on validation failure")
	}
}

func TestGroupErrorFailsCommand(t *testing.T) {
	s, tr := newTestStore()
	cmd, _ := s.CreateGroup("Chem", nil)
	ref := tr.last().(frame.CreateGroup).ClientRef

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })
	s.Dispatch(decode(t, `{"type":"group_error","action":"create_group","message":"name taken","client_ref":"`+ref+`"}`))

	if err := waitCommand(t, cmd); !errors.Is(err, ErrRejected) {
		t.Errorf("expected rejection, got %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Kind != EventError {
		t.Errorf("expected error event, got %+v", events)
	}
}

func TestSendFailureFailsCommand(t *testing.T) {
	s, tr := newTestStore()
	tr.err = errors.New("not connected")
	cmd, err := s.CreateGroup("Bio", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Status() != command.StatusFailed {
		t.Errorf("expected failed, got %s", cmd.Status())
	}
}

func TestIgnoreInvitation(t *testing.T) {
	s, tr := newTestStore()
	s.Dispatch(decode(t, `{"type":"group_invitation","group":{"id":5,"name":"Maths"},"invited_by":"bob"}`))
	invs := s.Invitations()
	if len(invs) != 1 || invs[0].Status != model.InvitationPending || invs[0].InvitedBy != "bob" {
		t.Fatalf("unexpected invitations: %+v", invs)
	}

	cmd, err := s.RespondToGroupInvite("5", Ignore)
	if err != nil {
		t.Fatal(err)
	}
	sent := tr.last().(frame.RespondInvite)
	if sent.Response != "ignore" || sent.GroupID != "5" {
		t.Errorf("unexpected frame: %+v", sent)
	}
	if len(s.Invitations()) != 1 {
		t.Fatal("invitation must stay until the server acknowledges")
	}

	s.Dispatch(decode(t, `{"type":"group_invite_response","group_id":5,"action":"ignore","client_ref":"`+sent.ClientRef+`"}`))
	if err := waitCommand(t, cmd); err != nil {
		t.Fatal(err)
	}
	if len(s.Invitations()) != 0 {
		t.Error("invitation must be removed after the ack")
	}
	if len(s.Groups()) != 0 {
		t.Error("ignored group must not be joined")
	}
}

func TestAcceptInvitation(t *testing.T) {
	s, tr := newTestStore()
	s.Dispatch(decode(t, `{"type":"group_invitation","group":{"id":5,"name":"Maths"},"invited_by":"bob"}`))
	s.Dispatch(decode(t, `{"type":"group_invitation","group":{"id":5,"name":"Maths"},"invited_by":"bob"}`))
	if len(s.Invitations()) != 1 {
		t.Fatal("duplicate invitation must be dropped")
	}

	cmd, _ := s.RespondToGroupInvite("5", Accept)
	ref := tr.last().(frame.RespondInvite).ClientRef
	s.Dispatch(decode(t, `{"type":"group_invite_response","group_id":5,"action":"accept","client_ref":"`+ref+`"}`))
	if cmd.Status() != command.StatusPending {
		t.Error("accept resolves on group_joined only")
	}
	s.Dispatch(decode(t, `{"type":"group_joined","group":{"id":5,"name":"Maths"}}`))
	if err := waitCommand(t, cmd); err != nil {
		t.Fatal(err)
	}
	if len(s.Invitations()) != 0 || len(s.Groups()) != 1 {
		t.Errorf("expected joined group, got groups=%v invitations=%v", s.Groups(), s.Invitations())
	}
}

func TestRespondValidation(t *testing.T) {
	s, _ := newTestStore()
	if _, err := s.RespondToGroupInvite("5", Accept); !IsValidation(err) {
		t.Errorf("no invitation: expected validation error, got %v", err)
	}
	s.Dispatch(decode(t, `{"type":"group_invitation","group":{"id":5,"name":"Maths"}}`))
	if _, err := s.RespondToGroupInvite("5", "maybe"); !IsValidation(err) {
		t.Errorf("bad response: expected validation error, got %v", err)
	}
}

func TestSendMessageConfirmed(t *testing.T) {
	s, tr := newTestStore()
	s.Dispatch(decode(t, `{"type":"group_list","groups":[{"id":1,"name":"A"}]}`))

	cmd, err := s.SendGroupMessage("1", model.TextBody("hello"), command.Confirmed)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Messages("1")) != 0 {
		t.Fatal("confirmed send must wait for the echo")
	}
	sent := tr.last().(frame.SendGroupMessage)
	echo := `{"type":"group_message","id":100,"group_id":1,"sender":{"username":"amy"},"body":` + mustJSON(t, sent.Body) + `,"client_ref":"` + sent.ClientRef + `"}`
	s.Dispatch(decode(t, echo))
	if err := waitCommand(t, cmd); err != nil {
		t.Fatal(err)
	}
	msgs := s.Messages("1")
	if len(msgs) != 1 || msgs[0].Body.Text != "hello" || msgs[0].ID != "100" {
		t.Errorf("unexpected messages: %+v", msgs)
	}

	s.Dispatch(decode(t, echo))
	if len(s.Messages("1")) != 1 {
		t.Error("repeated echo must not duplicate the message")
	}
}

func TestSendMessageOptimistic(t *testing.T) {
	s, tr := newTestStore()
	s.Dispatch(decode(t, `{"type":"group_list","groups":[{"id":1,"name":"A"}]}`))

	cmd, _ := s.SendGroupMessage("1", model.TextBody("hi"), command.Optimistic)
	msgs := s.Messages("1")
	if len(msgs) != 1 || msgs[0].Status != model.MessageStatusPending || msgs[0].Sender.Username != "amy" {
		t.Fatalf("expected pending local copy, got %+v", msgs)
	}
	ref := tr.last().(frame.SendGroupMessage).ClientRef
	s.Dispatch(decode(t, `{"type":"group_message","id":7,"group_id":1,"sender":{"username":"amy"},"message":"hi","client_ref":"`+ref+`"}`))
	if err := waitCommand(t, cmd); err != nil {
		t.Fatal(err)
	}
	msgs = s.Messages("1")
	if len(msgs) != 1 || msgs[0].ID != "7" || msgs[0].Status == model.MessageStatusPending {
		t.Errorf("echo must replace the pending copy, got %+v", msgs)
	}
}

func TestOptimisticSendFailureRemovesCopy(t *testing.T) {
	s, tr := newTestStore()
	s.Dispatch(decode(t, `{"type":"group_list","groups":[{"id":1,"name":"A"}]}`))
	tr.err = errors.New("socket closed")

	cmd, _ := s.SendGroupMessage("1", model.TextBody("lost"), command.Optimistic)
	if cmd.Status() != command.StatusFailed {
		t.Errorf("expected failed, got %s", cmd.Status())
	}
	if len(s.Messages("1")) != 0 {
		t.Error("failed optimistic message must be removed")
	}
}

func TestPendingTimeout(t *testing.T) {
	tr := &fakeTransport{}
	s := NewStore(tr, Options{PendingTimeout: 20 * time.Millisecond})
	cmd, _ := s.CreateGroup("Slow", nil)
	if err := waitCommand(t, cmd); !errors.Is(err, ErrPendingTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestSendMessageValidation(t *testing.T) {
	s, _ := newTestStore()
	if _, err := s.SendGroupMessage("", model.TextBody("x"), command.Confirmed); !IsValidation(err) {
		t.Errorf("no group: expected validation error, got %v", err)
	}
	if _, err := s.SendGroupMessage("1", model.TextBody("x"), command.Confirmed); !IsValidation(err) {
		t.Errorf("unknown group: expected validation error, got %v", err)
	}
	s.Dispatch(decode(t, `{"type":"group_list","groups":[{"id":1,"name":"A"}]}`))
	if _, err := s.SendGroupMessage("1", model.TextBody("   "), command.Confirmed); !IsValidation(err) {
		t.Errorf("empty body: expected validation error, got %v", err)
	}
	_, err := s.ShareQuestions("1", model.SharedQuestionsPayload{}, command.Confirmed)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Message != "no questions selected" {
		t.Errorf("expected no questions selected, got %v", err)
	}
}

func TestShareQuestionsDefaultsSharedBy(t *testing.T) {
	s, tr := newTestStore()
	s.Dispatch(decode(t, `{"type":"group_list","groups":[{"id":1,"name":"A"}]}`))
	_, err := s.ShareQuestions("1", model.SharedQuestionsPayload{
		Questions: []json.RawMessage{json.RawMessage(`{"id":1,"text":"2+2?"}`)},
	}, command.Confirmed)
	if err != nil {
		t.Fatal(err)
	}
	body := tr.last().(frame.SendGroupMessage).Body
	if body.Kind != model.BodySharedQuestions || body.SharedQuestions.SharedBy != "amy" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHistoryKeepsPendingMessages(t *testing.T) {
	s, _ := newTestStore()
	s.Dispatch(decode(t, `{"type":"group_list","groups":[{"id":1,"name":"A"}]}`))
	s.SendGroupMessage("1", model.TextBody("draft"), command.Optimistic)

	s.Dispatch(decode(t, `{"type":"group_history","group_id":1,"messages":[
		{"id":1,"sender":{"username":"bob"},"message":"first"},
		{"id":2,"type":"group_system_message","message":"amy joined"}
	]}`))
	msgs := s.Messages("1")
	if len(msgs) != 3 {
		t.Fatalf("expected 2 history + 1 pending, got %d", len(msgs))
	}
	if msgs[1].Type != model.ChatMessageSystem || msgs[0].GroupID != "1" {
		t.Errorf("unexpected history: %+v", msgs)
	}
	if msgs[2].Status != model.MessageStatusPending {
		t.Error("pending message must follow history")
	}
}

func TestHistoryConfirmsEchoedPendingMessage(t *testing.T) {
	tr := &fakeTransport{}
	s := NewStore(tr, Options{Self: model.Sender{Username: "amy"}, PendingTimeout: 30 * time.Millisecond})
	s.Dispatch(decode(t, `{"type":"group_list","groups":[{"id":1,"name":"A"}]}`))
	cmd, _ := s.SendGroupMessage("1", model.TextBody("hello"), command.Optimistic)
	ref := tr.last().(frame.SendGroupMessage).ClientRef

	s.Dispatch(decode(t, `{"type":"group_history","group_id":1,"messages":[
		{"id":9,"sender":{"username":"amy"},"message":"hello","client_ref":"`+ref+`"}
	]}`))
	if err := waitCommand(t, cmd); err != nil {
		t.Fatalf("echo in history must confirm the send, got %v", err)
	}
	msgs := s.Messages("1")
	if len(msgs) != 1 || msgs[0].ID != "9" || msgs[0].Status == model.MessageStatusPending {
		t.Fatalf("expected only the echoed message, got %+v", msgs)
	}

	time.Sleep(60 * time.Millisecond)
	if got := len(s.Messages("1")); got != 1 {
		t.Errorf("message must survive the pending timeout, got %d", got)
	}
	if cmd.Status() != command.StatusConfirmed {
		t.Errorf("expected confirmed, got %s", cmd.Status())
	}
}

func TestResetFailsPending(t *testing.T) {
	s, _ := newTestStore()
	s.Dispatch(decode(t, `{"type":"group_list","groups":[{"id":1,"name":"A"}]}`))
	cmd, _ := s.CreateGroup("B", nil)
	s.Reset()
	if err := waitCommand(t, cmd); !errors.Is(err, ErrReset) {
		t.Errorf("expected reset error, got %v", err)
	}
	if len(s.Groups()) != 0 {
		t.Error("reset must clear groups")
	}
}

func TestGroupEventsArriveInOrder(t *testing.T) {
	s, _ := newTestStore()
	var (
		mu   sync.Mutex
		lens []int
	)
	s.Subscribe(func(ev Event) {
		if ev.Kind != EventInvitations {
			return
		}
		mu.Lock()
		lens = append(lens, len(ev.Invitations))
		mu.Unlock()
	})

	var frames []frame.Frame
	for i := 1; i <= 30; i++ {
		frames = append(frames, decode(t, fmt.Sprintf(`{"type":"group_invitation","group":{"id":%d,"name":"G"},"invited_by":"bob"}`, i)))
	}
	var wg sync.WaitGroup
	for _, f := range frames {
		wg.Add(1)
		go func(f frame.Frame) {
			defer wg.Done()
			s.Dispatch(f)
		}(f)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(lens); i++ {
		if lens[i] < lens[i-1] {
			t.Fatalf("event %d is older than the one before it: %v", i, lens)
		}
	}
	if len(lens) != 30 || lens[len(lens)-1] != 30 {
		t.Errorf("unexpected invitation events: %v", lens)
	}
}
