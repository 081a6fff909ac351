package ws

import (
	"context"
	"sync"

	"github.com/classfeed/internal/logger"
)

// Hub рассылает события всем подключённым клиентам UI.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	maxConns int
	// initial: сообщения для нового (или запросившего resync) клиента.
	initial    func() []OutgoingMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int, initial func() []OutgoingMessage) *Hub {
	if maxConns <= 0 {
		maxConns = 64
	}
	if initial == nil {
		initial = func() []OutgoingMessage { return nil }
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		initial:    initial,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Done закрывается, когда Run вернулся и все клиенты остановлены.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast кодирует msg один раз и ставит в очередь каждому клиенту.
// Клиент с переполненной очередью отключается.
func (h *Hub) Broadcast(msg OutgoingMessage) {
	data, err := encode(msg)
	if err != nil {
		logger.Errorf("ws push: encode %s: %v", msg.Type, err)
		return
	}
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		logger.Errorf("ws push: client %s too slow, dropping", c.id)
		go h.Unregister(c)
	}
}

// Len: число подключённых клиентов.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) shutdown() {
	// Собираем клиентов под блокировкой, I/O под мьютексом не делаем.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws push connection limit reached (%d), rejecting %s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.replay(c)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		// Сеть вне блокировки.
		c.Close()
	}
}

// replay отправляет клиенту текущее состояние: при подключении и по "resync".
func (h *Hub) replay(c *Client) {
	for _, msg := range h.initial() {
		data, err := encode(msg)
		if err != nil {
			logger.Errorf("ws push: encode %s: %v", msg.Type, err)
			continue
		}
		if !c.enqueue(data) {
			return
		}
	}
}
