package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/classfeed/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pushWriteWait = 10 * time.Second
	pushPongWait  = 60 * time.Second
	pushPingEvery = pushPongWait * 9 / 10
	// UI шлёт только короткие команды вроде {"type":"resync"}.
	pushReadLimit = 512
	pushQueueSize = 256
)

// Client: одно подключение UI. Получает уже закодированные события.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	queue chan []byte
	id    string

	closed chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		queue:  make(chan []byte, pushQueueSize),
		id:     uuid.New().String()[:8],
		closed: make(chan struct{}),
	}
}

// Start запускает чтение и запись; cancel вызывается из Close.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

func (c *Client) Wait() { c.wg.Wait() }

func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.closed)
		c.conn.Close()
	})
}

// enqueue кладёт событие в очередь без блокировки. false: очередь полна.
// Закрытый клиент молча пропускает событие.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.closed:
		return true
	default:
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(pushReadLimit)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pushPongWait)) }
	if err := extend(""); err != nil {
		logger.Errorf("ws push %s: read deadline: %v", c.id, err)
		return
	}
	c.conn.SetPongHandler(extend)

	for ctx.Err() == nil {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws push %s: read: %v", c.id, err)
			}
			return
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	var msg IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warnf("ws push %s: bad message: %v", c.id, err)
		return
	}
	switch msg.Type {
	case incomingResync:
		c.hub.replay(c)
	default:
		logger.Debugf("ws push %s: ignoring %q", c.id, msg.Type)
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	ping := time.NewTicker(pushPingEvery)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			c.write(websocket.CloseMessage, nil)
			return
		case data := <-c.queue:
			if err := c.write(websocket.TextMessage, data); err != nil {
				logger.Debugf("ws push %s: write: %v", c.id, err)
				return
			}
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(pushWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}
