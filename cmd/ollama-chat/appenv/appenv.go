// Package appenv builds what the ollama-chat commands share from the root
// persistent flags: configuration, logger, Ollama client and chat store.
package appenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/dbpath"
	"github.com/NurRobin/ollama-chat/pkg/config"
	"github.com/NurRobin/ollama-chat/pkg/conversation"
	"github.com/NurRobin/ollama-chat/pkg/logger"
	"github.com/NurRobin/ollama-chat/pkg/ollama"
	"github.com/NurRobin/ollama-chat/pkg/storage"
	"github.com/NurRobin/ollama-chat/pkg/storage/inmemory"
	"github.com/NurRobin/ollama-chat/pkg/storage/sqlite"
)

// Persistent flag names.
const (
	FlagConfig = "config"
	FlagDebug  = "debug"
	FlagHost   = "host"
	FlagModel  = "model"
	FlagDB     = "db"
)

// Env is the shared state of one command invocation.
type Env struct {
	ConfigPath string
	Config     *config.Config
	Logger     *zap.Logger
	Debug      bool

	dbFlag  string
	closers []func() error
}

// AddFlags registers the persistent flags every command reads.
func AddFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.String(FlagConfig, "", "Path to the config file (default ~/.ollama-chat/config.toml)")
	flags.Bool(FlagDebug, false, "Enable debug logging")
	flags.String(FlagHost, "", "Ollama server URL (overrides config and "+config.EnvHost+")")
	flags.StringP(FlagModel, "m", "", "Model to chat with (overrides config and "+config.EnvModel+")")
	flags.String(FlagDB, "", "Path to the chat database (default ~/.ollama-chat/chats.db)")
}

// Load reads .env files and the config file, applies flag overrides and
// creates a logger writing to stderr.
func Load(cmd *cobra.Command) (*Env, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	path, _ := flags.GetString(FlagConfig)
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if host, _ := flags.GetString(FlagHost); host != "" {
		cfg.Host = host
	}
	if model, _ := flags.GetString(FlagModel); model != "" {
		cfg.Model = model
	}

	debug, _ := flags.GetBool(FlagDebug)
	dbFlag, _ := flags.GetString(FlagDB)

	env := &Env{
		ConfigPath: path,
		Config:     cfg,
		Logger:     logger.NewLoggerTo(cmd.ErrOrStderr(), debug, false),
		Debug:      debug,
		dbFlag:     dbFlag,
	}
	return env, nil
}

// LogToFile redirects the logger to a file in the config directory, for
// full-screen modes that own the terminal.
func (e *Env) LogToFile(name string) error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create %s: %w", dir, err)
	}

	l, closeFn, err := logger.NewFileLogger(filepath.Join(dir, name), e.Debug)
	if err != nil {
		return fmt.Errorf("could not open log file: %w", err)
	}
	e.Logger = l
	e.closers = append(e.closers, closeFn)
	return nil
}

// Client returns an Ollama client configured from the config.
func (e *Env) Client() *ollama.Client {
	opts := append(e.Config.ClientOptions(), ollama.WithLogger(e.Logger))
	return ollama.New(e.Config.Host, opts...)
}

// OpenStore opens the configured chat store. The store is closed by Close.
func (e *Env) OpenStore(ctx context.Context) (storage.Driver, error) {
	if e.Config.Storage.Driver == config.DriverMemory && e.dbFlag == "" {
		e.Logger.Debug("using in-memory storage")
		return inmemory.NewDriver(), nil
	}

	path, err := dbpath.Resolve(e.dbFlag, e.Config)
	if err != nil {
		return nil, fmt.Errorf("could not resolve database path: %w", err)
	}

	driver, err := sqlite.NewDriver(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}
	e.Logger.Debug("using SQLite storage", zap.String("path", path))
	e.closers = append(e.closers, driver.Close)
	return driver, nil
}

// Service opens the store and returns a conversation service over it. The
// store is closed by Close, not by the service.
func (e *Env) Service(ctx context.Context) (*conversation.Service, *ollama.Client, error) {
	store, err := e.OpenStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	client := e.Client()
	svc := conversation.New(store, client,
		conversation.WithLogger(e.Logger),
		conversation.WithOptions(e.Config.LLMOptions()),
	)
	return svc, client, nil
}

// Close releases everything opened through e.
func (e *Env) Close() error {
	var err error
	for i := len(e.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, e.closers[i]())
	}
	e.closers = nil
	_ = e.Logger.Sync()
	return err
}
