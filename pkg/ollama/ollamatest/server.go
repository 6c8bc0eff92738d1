// Package ollamatest provides a scripted in-process Ollama server for tests.
package ollamatest

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/NurRobin/ollama-chat/pkg/llm"
)

// Server fakes the subset of the Ollama API used by ollama-chat. Chat and
// generate replies are scripted as a list of text fragments, each sent as
// one stream record, followed by a final record with empty content.
type Server struct {
	URL string

	srv *httptest.Server

	mu         sync.Mutex
	models     []llm.Model
	reply      []string
	failStatus int
	chats      []llm.ChatRequest
	pulls      []string
}

// NewServer starts a server replying "Hello!" in two fragments.
func NewServer() *Server {
	s := &Server{reply: []string{"Hel", "lo!"}}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/api/chat", s.handleChat)
	app.Post("/api/generate", s.handleGenerate)
	app.Get("/api/tags", s.handleTags)
	app.Post("/api/pull", s.handlePull)
	app.Delete("/api/delete", s.handleDelete)

	s.srv = httptest.NewServer(adaptor.FiberApp(app))
	s.URL = s.srv.URL
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// SetReply scripts the fragments of subsequent chat and generate replies.
func (s *Server) SetReply(fragments ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = fragments
}

// FailWith makes chat and generate requests fail with status. Zero restores
// normal replies.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// SetModels replaces the installed model list.
func (s *Server) SetModels(models ...llm.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = models
}

// Models returns the installed model list.
func (s *Server) Models() []llm.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Model(nil), s.models...)
}

// ChatRequests returns every chat request received, oldest first.
func (s *Server) ChatRequests() []llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ChatRequest(nil), s.chats...)
}

// Pulls returns the names of every successful pull, oldest first.
func (s *Server) Pulls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pulls...)
}

func (s *Server) script() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reply...), s.failStatus
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	s.mu.Lock()
	s.chats = append(s.chats, req)
	s.mu.Unlock()

	reply, status := s.script()
	if status != 0 {
		return c.Status(status).JSON(llm.ErrorResponse{Error: "scripted failure"})
	}

	if req.Stream != nil && !*req.Stream {
		return c.JSON(llm.ChatResponse{
			Model:     req.Model,
			CreatedAt: time.Now(),
			Message:   llm.Message{Role: llm.RoleAssistant, Content: strings.Join(reply, "")},
			Done:      true,
		})
	}

	var lines []any
	for _, frag := range reply {
		lines = append(lines, llm.StreamChunk{
			Model:   req.Model,
			Message: llm.Message{Role: llm.RoleAssistant, Content: frag},
		})
	}
	lines = append(lines, llm.StreamChunk{
		Model:     req.Model,
		Message:   llm.Message{Role: llm.RoleAssistant},
		Done:      true,
		EvalCount: len(reply),
	})
	return sendNDJSON(c, lines)
}

func (s *Server) handleGenerate(c *fiber.Ctx) error {
	var req llm.GenerateRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	reply, status := s.script()
	if status != 0 {
		return c.Status(status).JSON(llm.ErrorResponse{Error: "scripted failure"})
	}

	if req.Stream != nil && !*req.Stream {
		return c.JSON(llm.GenerateResponse{Model: req.Model, Response: strings.Join(reply, ""), Done: true})
	}

	var lines []any
	for _, frag := range reply {
		lines = append(lines, llm.GenerateResponse{Model: req.Model, Response: frag})
	}
	lines = append(lines, llm.GenerateResponse{Model: req.Model, Done: true})
	return sendNDJSON(c, lines)
}

func (s *Server) handleTags(c *fiber.Ctx) error {
	return c.JSON(llm.ModelList{Models: s.Models()})
}

func (s *Server) handlePull(c *fiber.Ctx) error {
	var req llm.ModelRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "name is required"})
	}

	if strings.HasPrefix(req.Name, "missing") {
		return sendNDJSON(c, []any{
			llm.PullProgress{Status: "pulling manifest"},
			llm.PullProgress{Error: "pull model manifest: file does not exist"},
		})
	}

	s.mu.Lock()
	s.pulls = append(s.pulls, req.Name)
	s.models = append(s.models, llm.Model{
		Name:       req.Name,
		Model:      req.Name,
		ModifiedAt: time.Now(),
		Size:       4_700_000_000,
		Digest:     "sha256:0123456789abcdef",
	})
	s.mu.Unlock()

	return sendNDJSON(c, []any{
		llm.PullProgress{Status: "pulling manifest"},
		llm.PullProgress{Status: "downloading", Digest: "sha256:0123456789abcdef", Total: 100, Completed: 50},
		llm.PullProgress{Status: "downloading", Digest: "sha256:0123456789abcdef", Total: 100, Completed: 100},
		llm.PullProgress{Status: "success"},
	})
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	var req llm.ModelRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "name is required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.models {
		if m.Name == req.Name {
			s.models = append(s.models[:i], s.models[i+1:]...)
			return c.SendStatus(fiber.StatusOK)
		}
	}
	return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "model '" + req.Name + "' not found"})
}

func sendNDJSON(c *fiber.Ctx, records []any) error {
	var b strings.Builder
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		b.Write(data)
		b.WriteByte('\n')
	}

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	return c.SendString(b.String())
}
