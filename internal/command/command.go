// Package command отслеживает итог изменения, которое должен подтвердить бэкенд или сервер чата.
// Command создаётся pending и завершается ровно один раз.
package command

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Policy: когда менять локальное состояние относительно подтверждения.
type Policy int

const (
	// Confirmed: менять только после подтверждения сервера.
	Confirmed Policy = iota
	// Optimistic: менять сразу и откатывать при ошибке.
	Optimistic
)

func (p Policy) String() string {
	if p == Optimistic {
		return "optimistic"
	}
	return "confirmed"
}

type Command struct {
	ID   string
	Name string

	mu     sync.Mutex
	status Status
	err    error
	done   chan struct{}
}

func New(name string) *Command {
	return &Command{
		ID:     uuid.New().String(),
		Name:   name,
		status: StatusPending,
		done:   make(chan struct{}),
	}
}

// Failed возвращает уже проваленную команду.
func Failed(name string, err error) *Command {
	c := New(name)
	c.Fail(err)
	return c
}

// Confirm завершает команду успехом. Повторные вызовы игнорируются.
func (c *Command) Confirm() {
	c.resolve(StatusConfirmed, nil)
}

// Fail завершает команду ошибкой err. Повторные вызовы игнорируются.
func (c *Command) Fail(err error) {
	c.resolve(StatusFailed, err)
}

func (c *Command) resolve(s Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPending {
		return
	}
	c.status = s
	c.err = err
	close(c.done)
}

func (c *Command) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Command) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Command) Done() <-chan struct{} { return c.done }

// Wait ждёт завершения команды или ctx и возвращает ошибку команды.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
