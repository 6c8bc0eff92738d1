package servecmder

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/pkg/config"
	"github.com/NurRobin/ollama-chat/server"
)

const serveLongDesc string = `Serve chats over HTTP.

Chats are stored like the chat command stores them, so chats started in
the terminal can be continued through the API and the other way round.
Replies stream back as newline-delimited JSON.

The config file is watched; model, system prompt and sampling options
are applied to new requests without a restart.

Examples:
  ollama-chat serve
  ollama-chat serve --listen 127.0.0.1:9090 -m llama3`

const serveShortDesc string = "Run the HTTP chat server"

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	listen string
	watch  bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (default from config, :8080)")
	cmd.Flags().BoolVar(&cmder.watch, "watch", true, "Reload the config file when it changes")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	env, err := appenv.Load(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	svc, client, err := env.Service(ctx)
	if err != nil {
		return err
	}

	listen := env.Config.Server.Listen
	if c.listen != "" {
		listen = c.listen
	}

	srv := server.New(server.Config{
		ListenAddr:          listen,
		DefaultModel:        env.Config.Model,
		DefaultSystemPrompt: env.Config.SystemPrompt,
	}, svc, client, env.Logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Run)

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		env.Logger.Info("shutting down chat server")
		return srv.Shutdown(shutdownCtx)
	})

	if c.watch && dirExists(filepath.Dir(env.ConfigPath)) {
		g.Go(func() error {
			modelFlag, _ := cmd.Flags().GetString(appenv.FlagModel)
			return config.Watch(gctx, env.ConfigPath, env.Logger, func(cfg *config.Config) {
				model := cfg.Model
				if modelFlag != "" {
					model = modelFlag
				}
				svc.SetOptions(cfg.LLMOptions())
				srv.SetDefaults(model, cfg.SystemPrompt)
				env.Logger.Debug("applied config",
					zap.String("model", model),
					zap.Float64p("temperature", cfg.LLMOptions().Temperature),
				)
			})
		})
	}

	return g.Wait()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
