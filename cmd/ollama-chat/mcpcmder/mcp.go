package mcpcmder

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/pkg/mcpserver"
)

const mcpLongDesc string = `Serve local models as MCP tools over stdin/stdout.

Register this command with an MCP client to let it list models, list
saved chats and ask a local model. Every exchange is saved as a chat.
Logs go to stderr; stdout carries the protocol.

Example client configuration:
  {"command": "ollama-chat", "args": ["mcp", "-m", "llama3"]}`

const mcpShortDesc string = "Run an MCP server over stdio"

func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: mcpShortDesc,
		Long:  mcpLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			env, err := appenv.Load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			svc, client, err := env.Service(ctx)
			if err != nil {
				return err
			}

			env.Logger.Info("starting MCP server",
				zap.String("ollama", client.BaseURL()),
				zap.String("model", env.Config.Model),
			)

			server := mcpserver.New(mcpserver.Config{
				DefaultModel: env.Config.Model,
				SystemPrompt: env.Config.SystemPrompt,
			}, svc, client, env.Logger)

			return mcpserver.Run(ctx, server)
		},
	}
}
