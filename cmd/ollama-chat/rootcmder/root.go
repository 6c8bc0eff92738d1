package rootcmder

import (
	"github.com/spf13/cobra"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/chatcmder"
	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/chatscmder"
	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/configcmder"
	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/generatecmder"
	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/mcpcmder"
	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/modelscmder"
	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/servecmder"
)

const rootLongDesc string = `Chat with models running on a local Ollama server.

Replies stream in as they are generated and every chat is saved, so
conversations can be resumed, listed and merged between machines.

Configuration is read from ~/.ollama-chat/config.toml; OLLAMA_HOST and
OLLAMA_CHAT_MODEL (also from a .env file) override it.

Examples:
  ollama-chat chat -m llama3
  ollama-chat chats list
  ollama-chat models pull mistral
  ollama-chat serve --listen :8080`

const rootShortDesc string = "Chat with local Ollama models"

// NewRootCmd builds the ollama-chat command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ollama-chat",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	appenv.AddFlags(cmd)

	cmd.AddCommand(
		chatcmder.NewChatCmd(),
		chatscmder.NewChatsCmd(),
		modelscmder.NewModelsCmd(),
		generatecmder.NewGenerateCmd(),
		servecmder.NewServeCmd(),
		mcpcmder.NewMCPCmd(),
		configcmder.NewConfigCmd(),
	)

	return cmd
}
