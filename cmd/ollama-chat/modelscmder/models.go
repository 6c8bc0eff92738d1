package modelscmder

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/pkg/llm"
)

const modelsShortDesc string = "Manage models on the Ollama server"

func NewModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: modelsShortDesc,
	}

	cmd.AddCommand(
		newListCmd(),
		newPullCmd(),
		newDeleteCmd(),
	)

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := appenv.Load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			models, err := env.Client().ListModels(cmd.Context())
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No models installed. Try: ollama-chat models pull llama3")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), modelTable(models, time.Now()))
			return nil
		},
	}
}

func modelTable(models []llm.Model, now time.Time) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "PARAMETERS", "SIZE", "MODIFIED").
		StyleFunc(func(row, _ int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Bold(true)
			}
			return s
		})

	for _, m := range models {
		modified := "-"
		if !m.ModifiedAt.IsZero() {
			modified = humanize.RelTime(m.ModifiedAt, now, "ago", "from now")
		}
		t.Row(m.Name, m.Details.ParameterSize, humanize.Bytes(uint64(max(m.Size, 0))), modified)
	}
	return t.Render()
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <model>",
		Short: "Download a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := appenv.Load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			out := cmd.OutOrStdout()
			err = env.Client().PullModel(cmd.Context(), args[0], progressPrinter(out))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pulled %s\n", args[0])
			return nil
		},
	}
}

// progressPrinter prints status changes and whole-percent steps of each
// layer download.
func progressPrinter(out io.Writer) func(llm.PullProgress) {
	var lastStatus string
	lastPercent := -1

	return func(p llm.PullProgress) {
		if p.Total > 0 {
			percent := int(p.Completed * 100 / p.Total)
			if p.Status == lastStatus && percent == lastPercent {
				return
			}
			lastStatus, lastPercent = p.Status, percent
			fmt.Fprintf(out, "%s: %d%% of %s\n", p.Status, percent, humanize.Bytes(uint64(p.Total)))
			return
		}

		if p.Status == lastStatus {
			return
		}
		lastStatus, lastPercent = p.Status, -1
		fmt.Fprintln(out, p.Status)
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model>...",
		Short: "Delete models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := appenv.Load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			client := env.Client()
			for _, name := range args {
				if err := client.DeleteModel(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
			}
			return nil
		},
	}
}
