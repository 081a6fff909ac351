// Package session связывает всё для пользователя: оба сокета, сторы уведомлений и групп,
// REST-клиент и сохранённые настройки. Одновременно активен один пользователь.
package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/classfeed/internal/backend"
	"github.com/classfeed/internal/config"
	"github.com/classfeed/internal/frame"
	"github.com/classfeed/internal/groupchat"
	"github.com/classfeed/internal/logger"
	"github.com/classfeed/internal/model"
	"github.com/classfeed/internal/notify"
	"github.com/classfeed/internal/socket"
	"github.com/classfeed/internal/storage"
)

var (
	ErrNoSession  = errors.New("session: not logged in")
	ErrNoUsername = errors.New("session: username is required")
)

// Типы событий для UI.
const (
	EventSession       = "session"
	EventNotifications = "notifications"
	EventGroups        = "groups"
	EventSocket        = "socket"
)

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type SocketEvent struct {
	Name  string       `json:"name"`
	State socket.State `json:"state"`
}

// Backend: REST, нужный сессии.
type Backend interface {
	notify.Acker
	notify.History
}

type Credentials struct {
	Username string `json:"username" validate:"required"`
	Token    string `json:"token"`
}

type Status struct {
	LoggedIn           bool         `json:"logged_in"`
	Username           string       `json:"username,omitempty"`
	NotificationSocket socket.State `json:"notification_socket,omitempty"`
	ChatSocket         socket.State `json:"chat_socket,omitempty"`
	Streak             int          `json:"streak,omitempty"`
}

type Options struct {
	Config *config.Config
	Prefs  storage.PrefStore
	// Dialer подменяет gorilla-дайлер (в тестах фейк).
	Dialer socket.Dialer
	// NewBackend подменяет REST-клиент из Config.
	NewBackend func(token string) Backend
	// OnEvent получает изменения сессии, сторов и сокетов.
	OnEvent func(Event)
}

// Session: вошедший пользователь.
type Session struct {
	Username      string
	Notifications *notify.Store
	Groups        *groupchat.Store

	notifySock *socket.Manager
	chatSock   *socket.Manager
	streak     int
	unsub      []func()
}

type Manager struct {
	opts    Options
	nowFunc func() time.Time

	mu  sync.Mutex
	cur *Session
}

func NewManager(opts Options) *Manager {
	if opts.OnEvent == nil {
		opts.OnEvent = func(Event) {}
	}
	if opts.NewBackend == nil {
		cfg := opts.Config
		opts.NewBackend = func(token string) Backend {
			return backend.NewClient(cfg.BackendURL, token, cfg.RequestTimeout)
		}
	}
	return &Manager{opts: opts, nowFunc: time.Now}
}

// Login начинает сессию. Повторный вход того же пользователя возвращает текущую,
// другой пользователь её заменяет.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*Session, error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" {
		return nil, ErrNoUsername
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		if m.cur.Username == username {
			return m.cur, nil
		}
		m.stopLocked()
	}

	streak, err := recordVisit(ctx, m.opts.Prefs, username, m.nowFunc())
	if err != nil {
		logger.Warnf("session: prefs for %s: %v", username, err)
	}

	s := &Session{Username: username, streak: streak}
	rest := m.opts.NewBackend(creds.Token)
	s.notifySock = m.newSocket("notifications", "/ws/notifications/", creds.Token, s.dispatchNotification)
	s.chatSock = m.newSocket("chat", "/ws/chat/", creds.Token, s.dispatchChat)
	s.Notifications = notify.NewStore(&acker{rest: rest, sock: s.notifySock}, rest)
	s.Groups = groupchat.NewStore(s.chatSock, groupchat.Options{Self: model.Sender{Username: username}})

	emit := m.opts.OnEvent
	s.unsub = append(s.unsub,
		s.Notifications.Subscribe(func(snap notify.Snapshot) {
			emit(Event{Type: EventNotifications, Payload: snap})
		}),
		s.Groups.Subscribe(func(ev groupchat.Event) {
			emit(Event{Type: EventGroups, Payload: ev})
		}),
	)
	m.cur = s

	s.notifySock.Connect(username)
	s.chatSock.Connect(username)
	logger.Infof("session: %s logged in (streak %d)", username, streak)
	emit(Event{Type: EventSession, Payload: m.statusLocked()})
	return s, nil
}

// Logout закрывает оба сокета (с отменой переподключений) и очищает оба стора.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return ErrNoSession
	}
	m.stopLocked()
	m.opts.OnEvent(Event{Type: EventSession, Payload: m.statusLocked()})
	return nil
}

// Close выходит из сессии при необходимости и ждёт остановки сокетов.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.cur
	if s != nil {
		m.stopLocked()
	}
	m.mu.Unlock()
	if s != nil {
		s.notifySock.Wait()
		s.chatSock.Wait()
	}
}

func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil, ErrNoSession
	}
	return m.cur, nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Replay отдаёт текущее состояние событиями для только что подключённого UI.
func (m *Manager) Replay() []Event {
	m.mu.Lock()
	s := m.cur
	st := m.statusLocked()
	m.mu.Unlock()
	evs := []Event{{Type: EventSession, Payload: st}}
	if s == nil {
		return evs
	}
	return append(evs,
		Event{Type: EventNotifications, Payload: s.Notifications.Snapshot()},
		Event{Type: EventGroups, Payload: groupchat.Event{Kind: groupchat.EventGroups, Groups: s.Groups.Groups()}},
		Event{Type: EventGroups, Payload: groupchat.Event{Kind: groupchat.EventInvitations, Invitations: s.Groups.Invitations()}},
	)
}

func (m *Manager) DarkMode(ctx context.Context) (bool, error) {
	v, _, err := m.opts.Prefs.Get(ctx, storage.KeyDarkMode)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (m *Manager) SetDarkMode(ctx context.Context, on bool) error {
	v := "false"
	if on {
		v = "true"
	}
	return m.opts.Prefs.Set(ctx, storage.KeyDarkMode, v)
}

func (m *Manager) statusLocked() Status {
	if m.cur == nil {
		return Status{}
	}
	return Status{
		LoggedIn:           true,
		Username:           m.cur.Username,
		NotificationSocket: m.cur.notifySock.State(),
		ChatSocket:         m.cur.chatSock.State(),
		Streak:             m.cur.streak,
	}
}

func (m *Manager) stopLocked() {
	s := m.cur
	m.cur = nil
	for _, fn := range s.unsub {
		fn()
	}
	s.notifySock.Close()
	s.chatSock.Close()
	s.Notifications.Reset()
	s.Groups.Reset()
	logger.Infof("session: %s logged out", s.Username)
}

func (m *Manager) newSocket(name, path, token string, onFrame func([]byte)) *socket.Manager {
	cfg := m.opts.Config
	dialer := m.opts.Dialer
	if dialer == nil {
		wd := socket.WebsocketDialer{ReadLimit: cfg.WSMaxMessageSize}
		if token != "" {
			wd.Header = http.Header{"Authorization": []string{"Token " + token}}
		}
		dialer = wd
	}
	var mgr *socket.Manager
	mgr = socket.NewManager(socket.Options{
		Name: name,
		URL: func(username string) string {
			return cfg.SocketURL + path + url.PathEscape(username) + "/"
		},
		Dialer: dialer,
		Backoff: socket.Backoff{
			Base:        cfg.Reconnect.BaseDelay,
			Max:         cfg.Reconnect.MaxDelay,
			Multiplier:  cfg.Reconnect.Multiplier,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		SendBuffer: cfg.WSSendBufferSize,
		WriteWait:  cfg.WSWriteTimeout,
		OnFrame:    onFrame,
		OnState: func(st socket.State) {
			if name == "chat" && st == socket.StateOpen {
				if err := mgr.Send(frame.ListGroups{Action: frame.ActionListGroups}); err != nil {
					logger.Warnf("session: chat resync: %v", err)
				}
			}
			m.opts.OnEvent(Event{Type: EventSocket, Payload: SocketEvent{Name: name, State: st}})
		},
	})
	return mgr
}

func (s *Session) dispatchNotification(data []byte) {
	f, ok := decodeFrame("notifications", data)
	if ok {
		s.Notifications.Dispatch(f)
	}
}

func (s *Session) dispatchChat(data []byte) {
	f, ok := decodeFrame("chat", data)
	if ok {
		s.Groups.Dispatch(f)
	}
}

func decodeFrame(name string, data []byte) (frame.Frame, bool) {
	f, err := frame.Decode(data)
	if err != nil {
		logger.Warnf("session: %s: dropping malformed frame: %v", name, err)
		return nil, false
	}
	if u, ok := f.(*frame.Unknown); ok {
		logger.Warnf("session: %s: dropping unknown frame type=%s", name, u.Type)
		return nil, false
	}
	return f, true
}

// acker шлёт надёжное REST-подтверждение и, если получится, mark_read в сокет.
type acker struct {
	rest notify.Acker
	sock *socket.Manager
}

func (a *acker) MarkRead(ctx context.Context, id model.ID) error {
	if err := a.sock.Send(frame.NewMarkRead(id)); err != nil {
		logger.Debugf("session: socket mark_read %s skipped: %v", id, err)
	}
	return a.rest.MarkRead(ctx, id)
}
