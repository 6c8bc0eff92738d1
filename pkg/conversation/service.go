// Package conversation runs chats against a model: it persists each turn
// and streams the assistant's reply, with at most one reply in flight per
// chat.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/pkg/chat"
	"github.com/NurRobin/ollama-chat/pkg/llm"
	"github.com/NurRobin/ollama-chat/pkg/storage"
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSuperseded is the cancellation cause of a reply replaced by a newer
	// Send for the same chat.
	ErrSuperseded = errors.New("superseded by a newer message")

	// ErrChatDeleted is the cancellation cause of a reply whose chat was
	// deleted.
	ErrChatDeleted = errors.New("chat was deleted")

	// ErrClosed is the cancellation cause of replies in flight when the
	// service is closed, and is returned by Send afterwards.
	ErrClosed = errors.New("conversation service closed")
)

// ChatStreamer streams one chat completion. *ollama.Client implements it.
type ChatStreamer interface {
	StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk, onComplete func(string)) error
}

// DefaultOptions are the sampling options sent when none are configured.
func DefaultOptions() llm.Options {
	return llm.Options{
		Temperature: llm.Float(0.7),
		TopP:        llm.Float(0.9),
	}
}

type reply struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Service owns the chats of one store.
type Service struct {
	store    storage.Driver
	streamer ChatStreamer
	logger   *zap.Logger
	now      func() time.Time

	// writeMu serialises read-modify-write cycles on stored chats.
	writeMu sync.Mutex

	mu       sync.Mutex
	options  llm.Options
	inflight map[string]*reply
	closed   bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOptions sets the initial sampling options.
func WithOptions(o llm.Options) Option {
	return func(s *Service) { s.options = o }
}

// New returns a Service storing chats in store and streaming replies
// through streamer.
func New(store storage.Driver, streamer ChatStreamer, opts ...Option) *Service {
	s := &Service{
		store:    store,
		streamer: streamer,
		logger:   zap.NewNop(),
		now:      time.Now,
		options:  DefaultOptions(),
		inflight: make(map[string]*reply),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOptions replaces the sampling options used by subsequent sends.
func (s *Service) SetOptions(o llm.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = o
}

// Options returns the current sampling options.
func (s *Service) Options() llm.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options
}

// CreateChat starts and stores an empty chat.
func (s *Service) CreateChat(ctx context.Context, model, title, systemPrompt string) (*chat.Chat, error) {
	if model == "" {
		return nil, errors.New("model is required")
	}

	c := chat.New(model, title, systemPrompt, s.now())
	if _, err := s.store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store chat: %w", err)
	}

	s.logger.Debug("chat created",
		zap.String("chat_id", c.ID),
		zap.String("model", model),
	)
	return c, nil
}

// GetChat returns a stored chat.
func (s *Service) GetChat(ctx context.Context, id string) (*chat.Chat, error) {
	return s.store.Get(ctx, id)
}

// ListChats returns previews of every chat, most recent first.
func (s *Service) ListChats(ctx context.Context) ([]chat.Preview, error) {
	chats, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chat.Previews(chats), nil
}

// DeleteChat removes a chat, cancelling any reply in flight for it.
func (s *Service) DeleteChat(ctx context.Context, id string) error {
	s.stop(id, ErrChatDeleted)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.Delete(ctx, id)
}

// Import merges chats from another store. For ids already present the
// record with the later UpdatedAt wins.
func (s *Service) Import(ctx context.Context, chats []*chat.Chat) (storage.MergeCounts, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return storage.MergeAll(ctx, s.store, chats)
}

// Send adds a user message to the chat and streams the assistant's reply,
// passing each fragment to onChunk. The reply is stored only once the stream
// completes; on any failure the chat keeps just the user message.
//
// A Send for a chat that already has a reply in flight cancels that reply
// (its Send returns ErrSuperseded) and waits for it to finish first.
func (s *Service) Send(ctx context.Context, chatID, text string, onChunk func(string)) (*chat.Chat, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	ctx, r, err := s.begin(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer s.end(chatID, r)

	c, err := s.update(ctx, chatID, llm.Message{Role: llm.RoleUser, Content: text})
	if err != nil {
		return nil, err
	}

	req := c.Request(s.requestOptions())

	log := s.logger.With(zap.String("chat_id", chatID), zap.String("model", c.Model))
	log.Debug("sending message", zap.Int("history", len(req.Messages)))

	var (
		full      string
		completed bool
	)
	err = s.streamer.StreamChat(ctx, req, onChunk, func(content string) {
		full = content
		completed = true
	})
	if err != nil {
		log.Debug("reply failed", zap.Error(err))
		return nil, err
	}
	if !completed {
		return nil, fmt.Errorf("reply for chat %s ended without completing", chatID)
	}

	// The reply is stored even if ctx was cancelled after completion.
	c, err = s.update(context.WithoutCancel(ctx), chatID, llm.Message{Role: llm.RoleAssistant, Content: full})
	if err != nil {
		return nil, err
	}

	log.Debug("reply stored", zap.Int("length", len(full)))
	return c, nil
}

// Cancel stops the reply in flight for chatID, if any, without waiting for
// it. It reports whether there was one. Safe to call from onChunk.
func (s *Service) Cancel(chatID string) bool {
	s.mu.Lock()
	r := s.inflight[chatID]
	s.mu.Unlock()

	if r == nil {
		return false
	}
	r.cancel(context.Canceled)
	return true
}

// InFlight reports whether chatID has a reply streaming.
func (s *Service) InFlight(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[chatID]
	return ok
}

// Close cancels every reply in flight, waits for them, and closes the store.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	replies := make([]*reply, 0, len(s.inflight))
	for _, r := range s.inflight {
		r.cancel(ErrClosed)
		replies = append(replies, r)
	}
	s.mu.Unlock()

	for _, r := range replies {
		<-r.done
	}

	var err error
	if closer, ok := s.streamer.(interface{ Close() error }); ok {
		err = multierr.Append(err, closer.Close())
	}
	return multierr.Append(err, s.store.Close())
}

// begin registers a new reply for chatID, superseding the current one.
func (s *Service) begin(ctx context.Context, chatID string) (context.Context, *reply, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	r := &reply{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel(ErrClosed)
		return nil, nil, ErrClosed
	}
	prev := s.inflight[chatID]
	s.inflight[chatID] = r
	s.mu.Unlock()

	if prev != nil {
		s.logger.Debug("superseding reply in flight", zap.String("chat_id", chatID))
		prev.cancel(ErrSuperseded)
		// Replies for one chat never overlap, even when ctx is already done.
		<-prev.done
		if ctx.Err() != nil {
			s.end(chatID, r)
			return nil, nil, context.Cause(ctx)
		}
	}
	return ctx, r, nil
}

func (s *Service) end(chatID string, r *reply) {
	s.mu.Lock()
	if s.inflight[chatID] == r {
		delete(s.inflight, chatID)
	}
	s.mu.Unlock()

	r.cancel(nil)
	close(r.done)
}

// stop cancels the reply in flight for chatID with cause and waits for it.
func (s *Service) stop(chatID string, cause error) {
	s.mu.Lock()
	r := s.inflight[chatID]
	s.mu.Unlock()

	if r != nil {
		r.cancel(cause)
		<-r.done
	}
}

// update appends msg to the stored chat.
func (s *Service) update(ctx context.Context, chatID string, msg llm.Message) (*chat.Chat, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	c, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	c.Append(msg, s.now())
	if _, err := s.store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store chat %s: %w", chatID, err)
	}
	return c, nil
}

func (s *Service) requestOptions() *llm.Options {
	o := s.Options()
	o.Stop = append([]string(nil), o.Stop...)
	return &o
}
