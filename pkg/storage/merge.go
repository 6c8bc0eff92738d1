package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/NurRobin/ollama-chat/pkg/chat"
)

// MergeResult says what Merge did with a record.
type MergeResult int

const (
	// MergeAdded means the id was new to the store.
	MergeAdded MergeResult = iota
	// MergeUpdated means the incoming record replaced an older one.
	MergeUpdated
	// MergeKept means the stored record was as recent or newer and was kept.
	MergeKept
)

func (r MergeResult) String() string {
	switch r {
	case MergeAdded:
		return "added"
	case MergeUpdated:
		return "updated"
	case MergeKept:
		return "kept"
	}
	return fmt.Sprintf("MergeResult(%d)", int(r))
}

// Merge stores c in d unless d already holds the same chat updated at the
// same time or later. The later UpdatedAt wins.
func Merge(ctx context.Context, d Driver, c *chat.Chat) (MergeResult, error) {
	existing, err := d.Get(ctx, c.ID)

	var notFound ErrNotFound
	switch {
	case errors.As(err, &notFound):
		if _, err := d.Put(ctx, c); err != nil {
			return 0, err
		}
		return MergeAdded, nil
	case err != nil:
		return 0, err
	case !c.UpdatedAt.After(existing.UpdatedAt):
		return MergeKept, nil
	}

	if _, err := d.Put(ctx, c); err != nil {
		return 0, err
	}
	return MergeUpdated, nil
}

// MergeCounts tallies merge results.
type MergeCounts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Kept    int `json:"kept"`
}

// Count records one result.
func (m *MergeCounts) Count(r MergeResult) {
	switch r {
	case MergeAdded:
		m.Added++
	case MergeUpdated:
		m.Updated++
	case MergeKept:
		m.Kept++
	}
}

// MergeAll merges every chat into d.
func MergeAll(ctx context.Context, d Driver, chats []*chat.Chat) (MergeCounts, error) {
	var counts MergeCounts
	for _, c := range chats {
		r, err := Merge(ctx, d, c)
		if err != nil {
			return counts, fmt.Errorf("could not merge chat %s: %w", c.ID, err)
		}
		counts.Count(r)
	}
	return counts, nil
}
