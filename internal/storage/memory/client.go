package memory

import (
	"context"
	"sync"
)

// Client хранит настройки в памяти процесса; теряются при перезапуске.
type Client struct {
	mu    sync.RWMutex
	prefs map[string]string
}

func New() *Client {
	return &Client{prefs: make(map[string]string)}
}

func (c *Client) Close() error { return nil }

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.prefs[key]
	return v, ok, nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs[key] = value
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prefs, key)
	return nil
}
