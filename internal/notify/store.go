// Package notify хранит живую ленту уведомлений одной сессии.
//
// Записи идут от новых к старым, дубликаты по id отбрасываются. MarkRead оптимистичен с откатом,
// ClearAll оптимистичен без отката. Источник истины: бэкенд. LoadOlder подменяет отображаемый
// список страницей истории, не смешивая её с лентой.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/classfeed/internal/command"
	"github.com/classfeed/internal/frame"
	"github.com/classfeed/internal/logger"
	"github.com/classfeed/internal/model"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownNotification = errors.New("notify: unknown notification")

// Acker доставляет бэкенду подтверждение прочтения.
type Acker interface {
	MarkRead(ctx context.Context, id model.ID) error
}

// History загружает страницу истории уведомлений.
type History interface {
	FetchNotifications(ctx context.Context) ([]model.Notification, error)
}

type Mode string

const (
	ModeRecent Mode = "recent"
	ModeOlder  Mode = "older"
)

// Snapshot получают подписчики после каждого изменения.
type Snapshot struct {
	Mode          Mode                 `json:"mode"`
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unread_count"`
}

type Store struct {
	acker   Acker
	history History
	nowFunc func() time.Time

	mu    sync.RWMutex
	live  []model.Notification
	index map[model.ID]int
	older []model.Notification
	mode  Mode

	// pubMu упорядочивает снимок и рассылку: старое состояние не придёт последним.
	pubMu  sync.Mutex
	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
}

func NewStore(acker Acker, history History) *Store {
	return &Store{
		acker:   acker,
		history: history,
		nowFunc: time.Now,
		index:   make(map[model.ID]int),
		mode:    ModeRecent,
		subs:    make(map[int]func(Snapshot)),
	}
}

// Dispatch классифицирует кадр и добавляет полученную запись.
func (s *Store) Dispatch(f frame.Frame) {
	n, ok := frame.Classify(f, s.nowFunc())
	if !ok {
		logger.Debugf("notify: unhandled frame type=%s", f.FrameType())
		return
	}
	s.Append(n)
}

// Append добавляет n в начало, если записи с таким id ещё нет. Возвращает true, если добавил.
func (s *Store) Append(n model.Notification) bool {
	s.mu.Lock()
	if _, ok := s.index[n.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.live = append([]model.Notification{n}, s.live...)
	s.reindexLocked()
	s.mu.Unlock()
	s.publish()
	return true
}

// MarkRead сразу помечает запись прочитанной и подтверждает в фоне.
// При ошибке подтверждения read=false возвращается; итог сообщает команда.
func (s *Store) MarkRead(ctx context.Context, id model.ID) *command.Command {
	cmd := command.New("mark_read")
	s.mu.Lock()
	if !s.setReadLocked(id, true) {
		s.mu.Unlock()
		cmd.Fail(fmt.Errorf("%w: %s", ErrUnknownNotification, id))
		return cmd
	}
	s.mu.Unlock()
	s.publish()

	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.acker.MarkRead(ctx, id); err != nil {
			logger.Warnf("notify: mark read %s failed, rolling back: %v", id, err)
			s.mu.Lock()
			s.setReadLocked(id, false)
			s.mu.Unlock()
			s.publish()
			cmd.Fail(err)
			return
		}
		cmd.Confirm()
	}()
	return cmd
}

// ClearAll до возврата помечает прочитанными все записи ленты и открытой страницы истории,
// затем параллельно подтверждает каждую. Ошибки пишутся в лог и в команду, но не откатываются.
func (s *Store) ClearAll(ctx context.Context) *command.Command {
	cmd := command.New("clear_all")
	s.mu.Lock()
	var ids []model.ID
	seen := make(map[model.ID]bool)
	collect := func(list []model.Notification) {
		for i := range list {
			if !list[i].Read && !seen[list[i].ID] {
				seen[list[i].ID] = true
				ids = append(ids, list[i].ID)
			}
		}
	}
	collect(s.live)
	collect(s.older)
	for _, id := range ids {
		s.setReadLocked(id, true)
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		cmd.Confirm()
		return cmd
	}
	s.publish()

	ctx = context.WithoutCancel(ctx)
	go func() {
		var (
			g      errgroup.Group
			mu     sync.Mutex
			failed []error
		)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				if err := s.acker.MarkRead(ctx, id); err != nil {
					logger.Warnf("notify: clear all: ack %s failed: %v", id, err)
					mu.Lock()
					failed = append(failed, fmt.Errorf("%s: %w", id, err))
					mu.Unlock()
				}
				return nil
			})
		}
		g.Wait()
		if len(failed) > 0 {
			cmd.Fail(errors.Join(failed...))
			return
		}
		cmd.Confirm()
	}()
	return cmd
}

// LoadOlder показывает вместо ленты страницу истории с бэкенда.
func (s *Store) LoadOlder(ctx context.Context) error {
	list, err := s.history.FetchNotifications(ctx)
	if err != nil {
		return fmt.Errorf("load older notifications: %w", err)
	}
	s.mu.Lock()
	s.older = list
	s.mode = ModeOlder
	s.mu.Unlock()
	s.publish()
	return nil
}

// ShowRecent возвращает отображение живой ленты.
func (s *Store) ShowRecent() {
	s.mu.Lock()
	s.mode = ModeRecent
	s.older = nil
	s.mu.Unlock()
	s.publish()
}

// View возвращает копию отображаемого списка.
func (s *Store) View() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode == ModeOlder {
		return append([]model.Notification(nil), s.older...)
	}
	return append([]model.Notification(nil), s.live...)
}

func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

// Get возвращает запись ленты по id.
func (s *Store) Get(id model.ID) (model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return model.Notification{}, false
	}
	return s.live[i], true
}

// UnreadCount считает непрочитанные записи ленты.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadLocked()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Reset очищает всё; вызывается при выходе.
func (s *Store) Reset() {
	s.mu.Lock()
	s.live = nil
	s.older = nil
	s.index = make(map[model.ID]int)
	s.mode = ModeRecent
	s.mu.Unlock()
	s.publish()
}

// Subscribe подписывает fn на снимки и возвращает функцию отписки.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
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

func (s *Store) publish() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	snap := s.Snapshot()
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	list := s.live
	if s.mode == ModeOlder {
		list = s.older
	}
	return Snapshot{
		Mode:          s.mode,
		Notifications: append([]model.Notification{}, list...),
		UnreadCount:   s.unreadLocked(),
	}
}

func (s *Store) unreadLocked() int {
	n := 0
	for i := range s.live {
		if !s.live[i].Read {
			n++
		}
	}
	return n
}

func (s *Store) reindexLocked() {
	for i := range s.live {
		s.index[s.live[i].ID] = i
	}
}

// setReadLocked меняет флаг и в ленте, и на странице истории.
func (s *Store) setReadLocked(id model.ID, read bool) bool {
	found := false
	if i, ok := s.index[id]; ok {
		s.live[i].Read = read
		found = true
	}
	for i := range s.older {
		if s.older[i].ID == id {
			s.older[i].Read = read
			found = true
		}
	}
	return found
}
