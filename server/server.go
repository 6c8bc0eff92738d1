// Package server exposes chats and model management over HTTP for a web
// front end. Replies stream to the browser as newline-delimited JSON while
// the conversation service persists each turn.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/pkg/chat"
	"github.com/NurRobin/ollama-chat/pkg/conversation"
	"github.com/NurRobin/ollama-chat/pkg/llm"
	"github.com/NurRobin/ollama-chat/pkg/ollama"
	"github.com/NurRobin/ollama-chat/pkg/storage"
)

// Server serves the chat API. It holds no chat state of its own: chats live
// in the conversation service and models on the Ollama server.
type Server struct {
	mu      sync.RWMutex
	config  Config
	service *conversation.Service
	client  *ollama.Client
	logger  *zap.Logger
	app     *fiber.App
}

// CreateChatRequest is the body of POST /api/chats.
type CreateChatRequest struct {
	Model        string `json:"model"`
	Title        string `json:"title"`
	SystemPrompt string `json:"systemPrompt"`
}

// SendRequest is the body of POST /api/chats/:id/messages.
type SendRequest struct {
	Content string `json:"content"`
}

// MessageEvent is one line of a streamed reply. Fragments carry Content;
// the last line has Done set and either the updated Chat or an Error.
type MessageEvent struct {
	Content string     `json:"content,omitempty"`
	Done    bool       `json:"done,omitempty"`
	Chat    *chat.Chat `json:"chat,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// New creates a Server and registers its routes.
func New(config Config, service *conversation.Service, client *ollama.Client, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:  config,
		service: service,
		client:  client,
		logger:  logger,
		app:     app,
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	app.Get("/api/chats", s.handleListChats)
	app.Post("/api/chats", s.handleCreateChat)
	app.Get("/api/chats/:id", s.handleGetChat)
	app.Delete("/api/chats/:id", s.handleDeleteChat)
	app.Post("/api/chats/import", s.handleImport)
	app.Post("/api/chats/:id/messages", s.handleSend)
	app.Post("/api/chats/:id/cancel", s.handleCancel)

	// Stateless pass-through to Ollama's own chat endpoint.
	app.Post("/api/chat", s.handleChat)

	app.Get("/api/models", s.handleListModels)
	app.Post("/api/models/pull", s.handlePullModel)
	app.Delete("/api/models", s.handleDeleteModel)

	return s
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting chat server",
		zap.String("listen", s.config.ListenAddr),
		zap.String("ollama", s.client.BaseURL()),
	)

	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener serves on an existing listener.
func (s *Server) RunWithListener(ln net.Listener) error {
	s.logger.Info("starting chat server",
		zap.String("listen", ln.Addr().String()),
		zap.String("ollama", s.client.BaseURL()),
	)

	return s.app.Listener(ln)
}

// Shutdown stops accepting connections and waits for open requests until
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// SetDefaults replaces the model and system prompt used for new chats.
func (s *Server) SetDefaults(model, systemPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.DefaultModel = model
	s.config.DefaultSystemPrompt = systemPrompt
}

func (s *Server) defaults() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.DefaultModel, s.config.DefaultSystemPrompt
}

func (s *Server) handleListChats(c *fiber.Ctx) error {
	previews, err := s.service.ListChats(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(previews)
}

func (s *Server) handleCreateChat(c *fiber.Ctx) error {
	var req CreateChatRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
		}
	}

	model, systemPrompt := s.defaults()
	if req.Model == "" {
		req.Model = model
	}
	if req.Model == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "model is required"})
	}
	if req.SystemPrompt == "" {
		req.SystemPrompt = systemPrompt
	}

	created, err := s.service.CreateChat(c.UserContext(), req.Model, req.Title, req.SystemPrompt)
	if err != nil {
		return s.fail(c, err)
	}

	s.logger.Info("chat created", zap.String("chat_id", created.ID), zap.String("model", created.Model))
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) handleGetChat(c *fiber.Ctx) error {
	found, err := s.service.GetChat(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(found)
}

func (s *Server) handleDeleteChat(c *fiber.Ctx) error {
	if err := s.service.DeleteChat(c.UserContext(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleImport merges a batch of chats pushed from another installation.
func (s *Server) handleImport(c *fiber.Ctx) error {
	var chats []*chat.Chat
	if err := json.Unmarshal(c.Body(), &chats); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}
	for _, ch := range chats {
		if ch == nil || ch.ID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "every chat needs an id"})
		}
	}

	counts, err := s.service.Import(c.UserContext(), chats)
	if err != nil {
		return s.fail(c, err)
	}

	s.logger.Info("chats imported",
		zap.Int("added", counts.Added),
		zap.Int("updated", counts.Updated),
		zap.Int("kept", counts.Kept),
	)
	return c.JSON(counts)
}

func (s *Server) handleCancel(c *fiber.Ctx) error {
	if !s.service.Cancel(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "no reply in flight"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSend streams the reply to a new user message. Request errors that
// can be detected up front get a plain status; everything after the first
// byte is reported in the final MessageEvent.
func (s *Server) handleSend(c *fiber.Ctx) error {
	id := c.Params("id")

	var req SendRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Content) == "" {
		return s.fail(c, conversation.ErrEmptyMessage)
	}
	if _, err := s.service.GetChat(c.UserContext(), id); err != nil {
		return s.fail(c, err)
	}

	startTime := time.Now()
	c.Set("Content-Type", "application/x-ndjson")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		write := ndjsonWriter(w, cancel)
		updated, err := s.service.Send(ctx, id, req.Content, func(text string) {
			if text != "" {
				write(MessageEvent{Content: text})
			}
		})
		if err != nil {
			s.logger.Warn("reply failed", zap.String("chat_id", id), zap.Error(err))
			write(MessageEvent{Done: true, Error: err.Error()})
			return
		}

		s.logger.Debug("reply complete",
			zap.String("chat_id", id),
			zap.Duration("duration", time.Since(startTime)),
		)
		write(MessageEvent{Done: true, Chat: updated})
	}))

	return nil
}

// handleChat forwards a chat request to Ollama. Streamed replies are
// re-encoded record by record as they are pulled from the stream.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	// Ollama defaults to streaming
	if req.Stream != nil && !*req.Stream {
		resp, err := s.client.Chat(c.UserContext(), &req)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(resp)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := s.client.OpenChatStream(ctx, &req)
	if err != nil {
		cancel()
		return s.fail(c, err)
	}

	c.Set("Content-Type", "application/x-ndjson")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer stream.Close()

		write := ndjsonWriter(w, cancel)
		for stream.Next() {
			write(stream.Record())
		}

		if err := stream.Err(); err != nil {
			s.logger.Warn("chat stream failed", zap.Error(err), zap.Int("records", stream.Records()))
			write(llm.ErrorResponse{Error: err.Error()})
			return
		}

		s.logger.Debug("chat stream complete",
			zap.String("model", req.Model),
			zap.Int("records", stream.Records()),
			zap.Int("skipped", stream.Skipped()),
		)
	}))

	return nil
}

func (s *Server) handleListModels(c *fiber.Ctx) error {
	models, err := s.client.ListModels(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	if models == nil {
		models = []llm.Model{}
	}
	return c.JSON(llm.ModelList{Models: models})
}

func (s *Server) handlePullModel(c *fiber.Ctx) error {
	var req llm.ModelRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "name is required"})
	}

	c.Set("Content-Type", "application/x-ndjson")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		write := ndjsonWriter(w, cancel)
		err := s.client.PullModel(ctx, req.Name, func(p llm.PullProgress) {
			write(p)
		})
		if err != nil {
			s.logger.Warn("model pull failed", zap.String("model", req.Name), zap.Error(err))
			write(llm.PullProgress{Error: err.Error()})
			return
		}
		s.logger.Info("model pulled", zap.String("model", req.Name))
	}))

	return nil
}

func (s *Server) handleDeleteModel(c *fiber.Ctx) error {
	var req llm.ModelRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "name is required"})
	}

	if err := s.client.DeleteModel(c.UserContext(), req.Name); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// fail writes err as an ErrorResponse with a status matching its kind.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(llm.ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var (
		notFound     storage.ErrNotFound
		endpointErr  *ollama.EndpointError
		timeoutErr   *ollama.TimeoutError
		transportErr *ollama.TransportError
		streamErr    *ollama.StreamError
	)

	switch {
	case errors.As(err, &notFound):
		return fiber.StatusNotFound
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, ollama.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.As(err, &endpointErr):
		return endpointErr.StatusCode
	case errors.As(err, &timeoutErr):
		return fiber.StatusGatewayTimeout
	case errors.As(err, &transportErr), errors.As(err, &streamErr), errors.Is(err, ollama.ErrStreamUnavailable):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// ndjsonWriter returns a function writing one JSON value per line and
// flushing it. A failed write means the client went away, so it cancels.
func ndjsonWriter(w *bufio.Writer, cancel context.CancelFunc) func(v any) {
	enc := json.NewEncoder(w)
	return func(v any) {
		if err := enc.Encode(v); err != nil {
			cancel()
			return
		}
		if err := w.Flush(); err != nil {
			cancel()
		}
	}
}
