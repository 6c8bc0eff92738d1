package chatscmder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/pkg/chat"
)

const chatsShortDesc string = "Manage saved chats"

func NewChatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: chatsShortDesc,
	}

	cmd.AddCommand(
		newListCmd(),
		newShowCmd(),
		newDeleteCmd(),
		NewMergeCmd(),
		NewPushCmd(),
	)

	return cmd
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.Context(), cmd, time.Now())
		},
	}
}

func runList(ctx context.Context, cmd *cobra.Command, now time.Time) error {
	env, err := appenv.Load(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	svc, _, err := env.Service(ctx)
	if err != nil {
		return err
	}

	previews, err := svc.ListChats(ctx)
	if err != nil {
		return err
	}
	if len(previews) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No chats yet.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TITLE", "MODEL", "UPDATED", "LAST MESSAGE").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, p := range previews {
		t.Row(p.ID, p.Title, p.Model, humanize.RelTime(p.Timestamp, now, "ago", "from now"), oneLine(p.LastMessage))
	}

	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print the messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := appenv.Load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			svc, _, err := env.Service(ctx)
			if err != nil {
				return err
			}

			c, err := svc.GetChat(ctx, args[0])
			if err != nil {
				return err
			}
			printChat(cmd, c)
			return nil
		},
	}
}

func printChat(cmd *cobra.Command, c *chat.Chat) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", c.Title, c.Model)
	if c.SystemPrompt != "" {
		fmt.Fprintf(out, "system: %s\n", c.SystemPrompt)
	}
	fmt.Fprintln(out)

	for _, m := range c.Messages {
		fmt.Fprintf(out, "%s: %s\n\n", m.Role, m.Content)
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chat-id>...",
		Short: "Delete chats",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := appenv.Load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			svc, _, err := env.Service(ctx)
			if err != nil {
				return err
			}

			for _, id := range args {
				if err := svc.DeleteChat(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
