// Package storage defines how chat records are persisted. Chats are a flat
// keyed collection addressed by id.
package storage

import (
	"context"

	"github.com/NurRobin/ollama-chat/pkg/chat"
)

// Driver persists chat records. Implementations copy records on the way in
// and out, so callers may keep mutating what they passed or received.
type Driver interface {
	// Put stores a chat, replacing any record with the same id.
	// It reports whether the id was new to the store.
	Put(ctx context.Context, c *chat.Chat) (bool, error)

	// Get retrieves a chat by id. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*chat.Chat, error)

	// List returns every chat in the store, in no particular order.
	List(ctx context.Context) ([]*chat.Chat, error)

	// Delete removes a chat. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// Close closes the store and releases any resources.
	Close() error
}

// ErrNotFound is returned when a chat doesn't exist in the store.
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return "chat not found"
	}

	return "chat not found: " + e.ID
}
