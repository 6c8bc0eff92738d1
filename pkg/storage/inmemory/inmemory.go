// Package inmemory is a map-backed storage.Driver, used when no database
// path is configured and in tests.
package inmemory

import (
	"context"
	"errors"
	"sync"

	"github.com/NurRobin/ollama-chat/pkg/chat"
	"github.com/NurRobin/ollama-chat/pkg/storage"
)

// Driver keeps chats in memory.
type Driver struct {
	mu    sync.RWMutex
	chats map[string]*chat.Chat
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver returns an empty in-memory store.
func NewDriver() *Driver {
	return &Driver{chats: make(map[string]*chat.Chat)}
}

func (d *Driver) Put(_ context.Context, c *chat.Chat) (bool, error) {
	if c == nil {
		return false, errors.New("cannot store nil chat")
	}
	if c.ID == "" {
		return false, errors.New("cannot store chat without id")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, exists := d.chats[c.ID]
	d.chats[c.ID] = c.Clone()
	return !exists, nil
}

func (d *Driver) Get(_ context.Context, id string) (*chat.Chat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.chats[id]
	if !ok {
		return nil, storage.ErrNotFound{ID: id}
	}
	return c.Clone(), nil
}

func (d *Driver) List(_ context.Context) ([]*chat.Chat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*chat.Chat, 0, len(d.chats))
	for _, c := range d.chats {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (d *Driver) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.chats[id]; !ok {
		return storage.ErrNotFound{ID: id}
	}
	delete(d.chats, id)
	return nil
}

func (d *Driver) Close() error {
	return nil
}
