package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/pkg/chat"
	"github.com/NurRobin/ollama-chat/pkg/conversation"
	"github.com/NurRobin/ollama-chat/pkg/tui"
)

const chatLongDesc string = `Start a chat, or resume one by id.

On a terminal the chat opens full screen; replies are rendered as
markdown as they stream in. Press esc to stop a reply and ctrl+c to quit.

When input is piped, or with --plain, each input line is sent as a
message and the reply is written to stdout.

Examples:
  ollama-chat chat -m llama3
  ollama-chat chat chat-1b4e28ba-2fa1-11d2-883f-0016d3cca427
  echo "Why is the sky blue?" | ollama-chat chat -m llama3`

const chatShortDesc string = "Chat with a model"

type chatCommander struct {
	title        string
	systemPrompt string
	plain        bool
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat [chat-id]",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return cmder.run(cmd.Context(), cmd, id)
		},
	}

	cmd.Flags().StringVarP(&cmder.title, "title", "t", "", "Title of a new chat (default: the first message)")
	cmd.Flags().StringVarP(&cmder.systemPrompt, "system", "s", "", "System prompt of a new chat (default from config)")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Line by line mode even on a terminal")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command, id string) error {
	env, err := appenv.Load(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	fullScreen := !c.plain && isTerminal(cmd.InOrStdin()) && isTerminal(cmd.OutOrStdout())
	if fullScreen {
		if err := env.LogToFile("ollama-chat.log"); err != nil {
			return err
		}
	}

	svc, _, err := env.Service(ctx)
	if err != nil {
		return err
	}

	current, err := c.open(ctx, svc, env.Config.Model, env.Config.SystemPrompt, id)
	if err != nil {
		return err
	}

	env.Logger.Debug("chat opened",
		zap.String("chat_id", current.ID),
		zap.String("model", current.Model),
		zap.Bool("full_screen", fullScreen),
	)

	if fullScreen {
		return tui.Run(ctx, current, svc, tui.Options{Logger: env.Logger})
	}
	return plainChat(ctx, svc, current, cmd.InOrStdin(), cmd.OutOrStdout())
}

func (c *chatCommander) open(ctx context.Context, svc *conversation.Service, model, systemPrompt, id string) (*chat.Chat, error) {
	if id != "" {
		existing, err := svc.GetChat(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("could not open chat: %w", err)
		}
		return existing, nil
	}

	if model == "" {
		return nil, errors.New("no model given: pass --model or set model in the config")
	}
	if c.systemPrompt != "" {
		systemPrompt = c.systemPrompt
	}
	return svc.CreateChat(ctx, model, c.title, systemPrompt)
}

// plainChat sends each non-empty input line and prints the reply as it
// streams in.
func plainChat(ctx context.Context, svc *conversation.Service, current *chat.Chat, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/exit" || text == "/quit" {
			break
		}

		_, err := svc.Send(ctx, current.ID, text, func(fragment string) {
			fmt.Fprint(out, fragment)
		})
		fmt.Fprintln(out)
		if err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("could not read input: %w", err)
	}
	fmt.Fprintf(out, "Chat saved as %s\n", current.ID)
	return nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
