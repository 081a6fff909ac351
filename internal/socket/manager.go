// Package socket держит не больше одного живого WebSocket на пользователя и переподключает
// его с экспоненциальной задержкой и потолком.
//
// Цикл: disconnected -> connecting -> open -> disconnected (повтор) -> ... -> failed.
// Обрыв или неудачный dial ставят ровно один таймер переподключения; Close его снимает.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/classfeed/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait   = 10 * time.Second
	defaultDialTimeout = 10 * time.Second
	defaultSendBuffer  = 64
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	// StateFailed: после Backoff.MaxAttempts неудач подряд.
	StateFailed State = "failed"
)

var (
	ErrNotConnected   = errors.New("socket: not connected")
	ErrSendBufferFull = errors.New("socket: send buffer full")
)

// Conn: часть *websocket.Conn, которой пользуется менеджер.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer подключается через gorilla/websocket.
type WebsocketDialer struct {
	Dialer    *websocket.Dialer
	Header    http.Header
	ReadLimit int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return conn, nil
}

// Backoff считает задержки переподключения. Multiplier <= 1: всегда Base.
// MaxAttempts 0: без ограничения.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// Delay возвращает паузу перед попыткой номер attempt (с 1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	if b.Multiplier > 1 {
		d = time.Duration(float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1)))
	}
	if b.Max > 0 && (d > b.Max || d <= 0) {
		d = b.Max
	}
	return d
}

type Options struct {
	// Name для логов ("notifications", "chat").
	Name string
	// URL строит адрес для пользователя.
	URL         func(username string) string
	Dialer      Dialer
	Backoff     Backoff
	SendBuffer  int
	WriteWait   time.Duration
	DialTimeout time.Duration
	// OnFrame получает входящие кадры по одному, в порядке приёма.
	OnFrame func(data []byte)
	// OnState вызывается после каждой смены состояния, вне блокировки менеджера.
	OnState func(State)
}

type Manager struct {
	opts Options

	mu       sync.Mutex
	state    State
	username string
	// gen меняется при каждом dial и разрыве; колбэки старых поколений игнорируются.
	gen        uint64
	conn       Conn
	send       chan []byte
	timer      *time.Timer
	attempts   int
	cancelDial context.CancelFunc

	wg sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff.Base = 5 * time.Second
	}
	if opts.OnFrame == nil {
		opts.OnFrame = func([]byte) {}
	}
	return &Manager{opts: opts, state: StateDisconnected}
}

// Connect открывает сокет для username. Для того же пользователя при open/connecting ничего
// не делает; другой пользователь заменяет текущее подключение.
func (m *Manager) Connect(username string) {
	m.mu.Lock()
	if username == m.username && (m.state == StateOpen || m.state == StateConnecting) {
		m.mu.Unlock()
		return
	}
	if m.username != "" && username != m.username {
		m.teardownLocked()
	}
	m.username = username
	m.attempts = 0
	m.stopTimerLocked()
	m.dialLocked()
	m.mu.Unlock()
	m.notify(StateConnecting)
}

// Close рвёт подключение и снимает отложенное переподключение.
func (m *Manager) Close() {
	m.mu.Lock()
	prev := m.state
	m.teardownLocked()
	m.username = ""
	m.mu.Unlock()
	if prev != StateDisconnected {
		m.notify(StateDisconnected)
	}
}

// Wait ждёт завершения pump-горутин всех подключений менеджера.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Send кодирует v в JSON и ставит в очередь открытого подключения.
func (m *Manager) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen || m.send == nil {
		return ErrNotConnected
	}
	select {
	case m.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Username() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.username
}

// Attempts: число неудачных попыток подряд.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) teardownLocked() {
	m.gen++
	m.stopTimerLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.send = nil
	m.attempts = 0
	m.state = StateDisconnected
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) dialLocked() {
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	m.cancelDial = cancel
	url := m.opts.URL(m.username)
	go m.dial(ctx, cancel, gen, url)
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, url string) {
	conn, err := m.opts.Dialer.Dial(ctx, url)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		logger.Errorf("ws %s dial user=%s: %v", m.opts.Name, m.username, err)
		next := m.connectionDownLocked(gen)
		m.mu.Unlock()
		m.notify(next)
		return
	}
	m.conn = conn
	m.send = make(chan []byte, m.opts.SendBuffer)
	m.state = StateOpen
	m.attempts = 0
	done := make(chan struct{})
	m.wg.Add(2)
	go m.readPump(gen, conn, done)
	go m.writePump(conn, m.send, done)
	username := m.username
	m.mu.Unlock()

	logger.Infof("ws %s connected user=%s", m.opts.Name, username)
	m.notify(StateOpen)
}

// connectionDownLocked учитывает неудачу и ставит одно переподключение либо сдаётся.
func (m *Manager) connectionDownLocked(gen uint64) State {
	m.conn = nil
	m.send = nil
	m.attempts++
	if limit := m.opts.Backoff.MaxAttempts; limit > 0 && m.attempts >= limit {
		m.state = StateFailed
		logger.Errorf("ws %s user=%s: giving up after %d attempts", m.opts.Name, m.username, m.attempts)
		return m.state
	}
	m.state = StateDisconnected
	delay := m.opts.Backoff.Delay(m.attempts)
	m.stopTimerLocked()
	m.timer = time.AfterFunc(delay, func() { m.reconnect(gen) })
	logger.Debugf("ws %s user=%s: reconnect in %v (attempt %d)", m.opts.Name, m.username, delay, m.attempts)
	return m.state
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateOpen || m.state == StateConnecting || m.username == "" {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.dialLocked()
	m.mu.Unlock()
	m.notify(StateConnecting)
}

func (m *Manager) connectionLost(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	next := m.connectionDownLocked(gen)
	m.mu.Unlock()
	m.notify(next)
}

func (m *Manager) notify(s State) {
	if m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}

// readPump отдаёт кадры до ошибки соединения, затем сообщает о разрыве.
func (m *Manager) readPump(gen uint64, conn Conn, done chan struct{}) {
	defer m.wg.Done()
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws %s read error: %v", m.opts.Name, err)
			}
			conn.Close()
			m.connectionLost(gen)
			return
		}
		m.opts.OnFrame(data)
	}
}

// writePump единственный пишет в conn. Выходит вместе с читателем или при ошибке записи.
func (m *Manager) writePump(conn Conn, send <-chan []byte, done <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-done:
			return
		case data := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(m.opts.WriteWait)); err != nil {
				logger.Errorf("ws %s set write deadline: %v", m.opts.Name, err)
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Errorf("ws %s write: %v", m.opts.Name, err)
				conn.Close()
				return
			}
		}
	}
}
