package generatecmder

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/pkg/llm"
)

const generateLongDesc string = `Run a one-shot completion without saving a chat.

The prompt is taken from the arguments, or from stdin when no arguments
are given. The completion is streamed to stdout.

Examples:
  ollama-chat generate -m llama3 "Write a haiku about Go"
  cat notes.md | ollama-chat generate -m llama3 --system "Summarize this"`

const generateShortDesc string = "One-shot completion"

type generateCommander struct {
	system string
	format string
}

func NewGenerateCmd() *cobra.Command {
	cmder := &generateCommander{}

	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: generateShortDesc,
		Long:  generateLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.system, "system", "s", "", "System prompt")
	cmd.Flags().StringVar(&cmder.format, "format", "", `Response format, e.g. "json"`)

	return cmd
}

func (c *generateCommander) run(cmd *cobra.Command, args []string) error {
	env, err := appenv.Load(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if env.Config.Model == "" {
		return errors.New("no model given: pass --model or set model in the config")
	}

	prompt := strings.Join(args, " ")
	if prompt == "" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("could not read prompt: %w", err)
		}
		prompt = string(b)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return errors.New("empty prompt")
	}

	opts := env.Config.LLMOptions()
	req := &llm.GenerateRequest{
		Model:   env.Config.Model,
		Prompt:  prompt,
		System:  c.system,
		Format:  c.format,
		Options: &opts,
	}

	out := cmd.OutOrStdout()
	err = env.Client().StreamGenerate(cmd.Context(), req,
		func(fragment string) { fmt.Fprint(out, fragment) },
		func(full string) {
			fmt.Fprintln(out)
			env.Logger.Debug("generate complete", zap.Int("length", len(full)))
		},
	)
	return err
}
