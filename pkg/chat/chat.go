// Package chat holds the chat record kept for every conversation and the
// pure operations on it: creation, message assembly and previews.
package chat

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NurRobin/ollama-chat/pkg/llm"
)

const (
	titleLength   = 30
	previewLength = 50

	// NoMessages is the preview text of an empty chat.
	NoMessages = "No messages yet"
)

// Chat is one conversation with a model.
type Chat struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Messages     []llm.Message `json:"messages"`
	Model        string        `json:"model"`
	SystemPrompt string        `json:"systemPrompt"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// New creates an empty chat. An empty title defaults to "New Chat <time>".
func New(model, title, systemPrompt string, now time.Time) *Chat {
	if title == "" {
		title = "New Chat " + now.Format("15:04:05")
	}

	return &Chat{
		ID:           "chat-" + uuid.NewString(),
		Title:        title,
		Messages:     []llm.Message{},
		Model:        model,
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Append adds msg stamped with now and bumps UpdatedAt. When the first
// message of a chat is a user message it becomes the title.
func (c *Chat) Append(msg llm.Message, now time.Time) {
	ts := now
	msg.Timestamp = &ts
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now

	if len(c.Messages) == 1 && msg.Role == llm.RoleUser {
		c.Title = shorten(msg.Content, titleLength)
	}
}

// Request builds a chat request from the conversation: the system prompt
// first, if set, then the stored history. Timestamps are not sent.
func (c *Chat) Request(opts *llm.Options) *llm.ChatRequest {
	messages := make([]llm.Message, 0, len(c.Messages)+1)
	if c.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: c.SystemPrompt})
	}
	for _, m := range c.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content, Images: m.Images})
	}

	return &llm.ChatRequest{
		Model:    c.Model,
		Messages: messages,
		Options:  opts,
	}
}

// Clone returns a deep copy of c.
func (c *Chat) Clone() *Chat {
	out := *c
	out.Messages = make([]llm.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// Preview is the summary of a chat shown in a chat list.
type Preview struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"lastMessage"`
	Timestamp   time.Time `json:"timestamp"`
	Model       string    `json:"model"`
}

// Preview summarises c.
func (c *Chat) Preview() Preview {
	last := NoMessages
	if n := len(c.Messages); n > 0 {
		last = shorten(c.Messages[n-1].Content, previewLength)
	}

	return Preview{
		ID:          c.ID,
		Title:       c.Title,
		LastMessage: last,
		Timestamp:   c.UpdatedAt,
		Model:       c.Model,
	}
}

// Previews summarises chats, most recently updated first.
func Previews(chats []*Chat) []Preview {
	out := make([]Preview, 0, len(chats))
	for _, c := range chats {
		out = append(out, c.Preview())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// shorten cuts s to n runes, adding "..." when something was cut.
func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
