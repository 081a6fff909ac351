package socket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.incoming:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	fail  bool
	delay time.Duration
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	fail, delay := d.fail, d.delay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type stateRecorder struct {
	ch chan State
}

func newStateRecorder() *stateRecorder { return &stateRecorder{ch: make(chan State, 64)} }

func (r *stateRecorder) record(s State) { r.ch <- s }

func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func newTestManager(d Dialer, b Backoff, rec *stateRecorder, onFrame func([]byte)) *Manager {
	return NewManager(Options{
		Name:    "test",
		URL:     func(u string) string { return "ws://backend.test/ws/notifications/" + u + "/" },
		Dialer:  d,
		Backoff: b,
		OnFrame: onFrame,
		OnState: rec.record,
	})
}

func TestBackoffDelay(t *testing.T) {
	fixed := Backoff{Base: 5 * time.Second, Multiplier: 1}
	for i := 1; i < 5; i++ {
		if d := fixed.Delay(i); d != 5*time.Second {
			t.Errorf("fixed attempt %d: got %v", i, d)
		}
	}
	exp := Backoff{Base: time.Second, Max: 10 * time.Second, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if d := exp.Delay(i + 1); d != w {
			t.Errorf("exp attempt %d: expected %v, got %v", i+1, w, d)
		}
	}
	if d := exp.Delay(500); d != 10*time.Second {
		t.Errorf("huge attempt must cap, got %v", d)
	}
}

func TestConnectIsIdempotentWhileConnecting(t *testing.T) {
	d := &fakeDialer{delay: 50 * time.Millisecond}
	rec := newStateRecorder()
	m := newTestManager(d, Backoff{Base: time.Second}, rec, nil)
	defer m.Close()

	m.Connect("amina")
	m.Connect("amina")
	m.Connect("amina")
	rec.waitFor(t, StateOpen)
	m.Connect("amina")

	if n := d.Dials(); n != 1 {
		t.Errorf("expected 1 dial, got %d", n)
	}
	if d.urls[0] != "ws://backend.test/ws/notifications/amina/" {
		t.Errorf("unexpected url %s", d.urls[0])
	}
}

func TestUnexpectedCloseReconnectsOnce(t *testing.T) {
	d := &fakeDialer{}
	rec := newStateRecorder()
	m := newTestManager(d, Backoff{Base: 20 * time.Millisecond, Multiplier: 1}, rec, nil)
	defer m.Close()

	m.Connect("amina")
	rec.waitFor(t, StateOpen)

	d.Conn(0).Close()
	rec.waitFor(t, StateDisconnected)
	rec.waitFor(t, StateOpen)

	time.Sleep(100 * time.Millisecond)
	if n := d.Dials(); n != 2 {
		t.Errorf("expected exactly 2 dials, got %d", n)
	}
	if m.Attempts() != 0 {
		t.Errorf("attempts must reset after open, got %d", m.Attempts())
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{fail: true}
	rec := newStateRecorder()
	m := newTestManager(d, Backoff{Base: 5 * time.Millisecond, Multiplier: 2, Max: 20 * time.Millisecond, MaxAttempts: 3}, rec, nil)
	defer m.Close()

	m.Connect("amina")
	rec.waitFor(t, StateFailed)
	time.Sleep(60 * time.Millisecond)
	if n := d.Dials(); n != 3 {
		t.Errorf("expected 3 dials, got %d", n)
	}
	if m.State() != StateFailed {
		t.Errorf("expected failed, got %s", m.State())
	}

	d.mu.Lock()
	d.fail = false
	d.mu.Unlock()
	m.Connect("amina")
	rec.waitFor(t, StateOpen)
}

func TestCloseCancelsReconnect(t *testing.T) {
	d := &fakeDialer{fail: true}
	rec := newStateRecorder()
	m := newTestManager(d, Backoff{Base: 50 * time.Millisecond, Multiplier: 1}, rec, nil)

	m.Connect("amina")
	rec.waitFor(t, StateDisconnected)
	m.Close()
	time.Sleep(120 * time.Millisecond)
	if n := d.Dials(); n != 1 {
		t.Errorf("expected no redial after close, got %d dials", n)
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestSwitchingUserReplacesConnection(t *testing.T) {
	d := &fakeDialer{}
	rec := newStateRecorder()
	m := newTestManager(d, Backoff{Base: time.Second}, rec, nil)
	defer m.Close()

	m.Connect("amina")
	rec.waitFor(t, StateOpen)
	m.Connect("bo")
	rec.waitFor(t, StateOpen)

	select {
	case <-d.Conn(0).closed:
	case <-time.After(time.Second):
		t.Fatal("old connection not closed")
	}
	if m.Username() != "bo" {
		t.Errorf("expected bo, got %s", m.Username())
	}
}

func TestSendAndReceiveOrder(t *testing.T) {
	d := &fakeDialer{}
	rec := newStateRecorder()
	var mu sync.Mutex
	var got []string
	frames := make(chan struct{}, 8)
	m := newTestManager(d, Backoff{Base: time.Second}, rec, func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
		frames <- struct{}{}
	})
	defer m.Close()

	if err := m.Send(map[string]string{"action": "mark_read"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before open, got %v", err)
	}

	m.Connect("amina")
	rec.waitFor(t, StateOpen)

	c := d.Conn(0)
	for _, f := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		c.incoming <- []byte(f)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-frames:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for frames")
		}
	}
	mu.Lock()
	if strings.Join(got, ",") != `{"n":1},{"n":2},{"n":3}` {
		t.Errorf("frames out of order: %v", got)
	}
	mu.Unlock()

	if err := m.Send(map[string]string{"action": "mark_read"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for len(c.Written()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w := c.Written(); len(w) != 1 || w[0] != `{"action":"mark_read"}` {
		t.Errorf("unexpected writes: %v", w)
	}
}

func TestWebsocketDialerAgainstServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/notifications/amina/" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"teacher_ack"}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	frames := make(chan string, 1)
	rec := newStateRecorder()
	m := NewManager(Options{
		Name:    "test",
		URL:     func(u string) string { return base + "/ws/notifications/" + u + "/" },
		Backoff: Backoff{Base: time.Second},
		OnFrame: func(data []byte) { frames <- string(data) },
		OnState: rec.record,
	})
	m.Connect("amina")

	select {
	case f := <-frames:
		if f != `{"type":"teacher_ack"}` {
			t.Errorf("unexpected frame %s", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	m.Close()
	m.Wait()
}
