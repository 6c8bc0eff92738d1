// Package mcpserver exposes ollama-chat to MCP clients, so agents can list
// local models and chats and ask a local model questions.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/pkg/chat"
	"github.com/NurRobin/ollama-chat/pkg/conversation"
	"github.com/NurRobin/ollama-chat/pkg/ollama"
)

// Version is reported to MCP clients.
const Version = "v0.1.0"

// Config configures the MCP tools.
type Config struct {
	// DefaultModel is used by ask when neither a chat nor a model is given.
	DefaultModel string
	// SystemPrompt is used for chats ask creates.
	SystemPrompt string
}

type ListModelsInput struct{}

type ModelInfo struct {
	Name          string    `json:"name" jsonschema:"model name, usable as the model argument of ask"`
	Size          string    `json:"size" jsonschema:"size on disk, human readable"`
	ParameterSize string    `json:"parameterSize,omitempty" jsonschema:"parameter count, e.g. 8.0B"`
	ModifiedAt    time.Time `json:"modifiedAt"`
}

type ListModelsOutput struct {
	Models []ModelInfo `json:"models"`
}

type ListChatsInput struct{}

type ListChatsOutput struct {
	Chats []chat.Preview `json:"chats"`
}

type AskInput struct {
	Prompt string `json:"prompt" jsonschema:"the message to send"`
	ChatID string `json:"chatId,omitempty" jsonschema:"continue this chat; omit to start a new one"`
	Model  string `json:"model,omitempty" jsonschema:"model for a new chat; defaults to the configured model"`
}

type AskOutput struct {
	ChatID string `json:"chatId"`
	Reply  string `json:"reply"`
}

// Server holds the tool handlers.
type Server struct {
	config  Config
	service *conversation.Service
	client  *ollama.Client
	logger  *zap.Logger
}

// New creates the MCP server with its tools registered.
func New(config Config, service *conversation.Service, client *ollama.Client, logger *zap.Logger) *mcp.Server {
	s := &Server{config: config, service: service, client: client, logger: logger}

	server := mcp.NewServer(&mcp.Implementation{Name: "ollama-chat", Version: Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_models",
		Description: "List the models installed on the local Ollama server.",
	}, s.listModels)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_chats",
		Description: "List saved chats, most recently updated first.",
	}, s.listChats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Send a message to a local model and return its full reply. The exchange is saved as a chat.",
	}, s.ask)

	return server
}

// Run serves MCP over stdin/stdout until the client disconnects or ctx is
// done.
func Run(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) listModels(ctx context.Context, _ *mcp.CallToolRequest, _ ListModelsInput) (*mcp.CallToolResult, ListModelsOutput, error) {
	models, err := s.client.ListModels(ctx)
	if err != nil {
		return nil, ListModelsOutput{}, err
	}

	out := ListModelsOutput{Models: make([]ModelInfo, 0, len(models))}
	for _, m := range models {
		out.Models = append(out.Models, ModelInfo{
			Name:          m.Name,
			Size:          humanize.Bytes(uint64(m.Size)),
			ParameterSize: m.Details.ParameterSize,
			ModifiedAt:    m.ModifiedAt,
		})
	}
	return nil, out, nil
}

func (s *Server) listChats(ctx context.Context, _ *mcp.CallToolRequest, _ ListChatsInput) (*mcp.CallToolResult, ListChatsOutput, error) {
	previews, err := s.service.ListChats(ctx)
	if err != nil {
		return nil, ListChatsOutput{}, err
	}
	return nil, ListChatsOutput{Chats: previews}, nil
}

func (s *Server) ask(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
	if in.Prompt == "" {
		return nil, AskOutput{}, errors.New("prompt is required")
	}

	chatID := in.ChatID
	if chatID == "" {
		model := in.Model
		if model == "" {
			model = s.config.DefaultModel
		}
		if model == "" {
			return nil, AskOutput{}, errors.New("model is required: pass one or configure a default")
		}

		created, err := s.service.CreateChat(ctx, model, "", s.config.SystemPrompt)
		if err != nil {
			return nil, AskOutput{}, err
		}
		chatID = created.ID
	}

	updated, err := s.service.Send(ctx, chatID, in.Prompt, nil)
	if err != nil {
		return nil, AskOutput{}, fmt.Errorf("ask failed: %w", err)
	}

	reply := updated.Messages[len(updated.Messages)-1].Content
	s.logger.Debug("answered mcp ask",
		zap.String("chat_id", chatID),
		zap.Int("reply_length", len(reply)),
	)
	return nil, AskOutput{ChatID: chatID, Reply: reply}, nil
}
