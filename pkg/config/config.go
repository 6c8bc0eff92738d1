// Package config loads ollama-chat settings from a TOML file, with .env files
// and environment variables layered on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/NurRobin/ollama-chat/pkg/llm"
	"github.com/NurRobin/ollama-chat/pkg/ollama"
)

const (
	// EnvHost overrides Config.Host.
	EnvHost = "OLLAMA_HOST"
	// EnvModel overrides Config.Model.
	EnvModel = "OLLAMA_CHAT_MODEL"

	dirName  = ".ollama-chat"
	fileName = "config.toml"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config is the full set of settings.
type Config struct {
	Host             string   `toml:"host"`
	Model            string   `toml:"model"`
	SystemPrompt     string   `toml:"system_prompt"`
	IdleTimeout      Duration `toml:"idle_timeout"`
	AcceptIncomplete bool     `toml:"accept_incomplete"`

	Storage Storage `toml:"storage"`
	Server  Server  `toml:"server"`
	Options Options `toml:"options"`
}

// Storage selects where chats are kept.
type Storage struct {
	Driver string `toml:"driver"`
	// Path of the SQLite database. Empty means <config dir>/chats.db.
	Path string `toml:"path"`
}

// Server configures `ollama-chat serve`.
type Server struct {
	Listen string `toml:"listen"`
}

// Options are the sampling options sent with every chat request.
type Options struct {
	Temperature *float64 `toml:"temperature"`
	TopP        *float64 `toml:"top_p"`
	TopK        *int     `toml:"top_k"`
	NumCtx      *int     `toml:"num_ctx"`
}

// Duration is a time.Duration written as a string ("90s", "2m") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		Host:        ollama.DefaultHost,
		IdleTimeout: Duration{2 * time.Minute},
		Storage:     Storage{Driver: DriverSQLite},
		Server:      Server{Listen: ":8080"},
		Options: Options{
			Temperature: llm.Float(0.7),
			TopP:        llm.Float(0.9),
		},
	}
}

// Dir returns the default configuration directory, ~/.ollama-chat.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// DefaultPath returns the default configuration file path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// LoadEnv loads .env files into the process environment. Missing files are
// ignored; variables already set are not overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating its directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvHost); v != "" {
		c.Host = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}
	c.Host = normalizeHost(c.Host)
}

// normalizeHost accepts the bare host:port form Ollama itself uses for
// OLLAMA_HOST.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ollama.DefaultHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/")
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, c.Storage.Driver)
	}

	if c.IdleTimeout.Duration < 0 {
		return errors.New("idle_timeout must not be negative")
	}
	if t := c.Options.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("options.temperature must be within [0, 2], got %v", *t)
	}
	if p := c.Options.TopP; p != nil && (*p < 0 || *p > 1) {
		return fmt.Errorf("options.top_p must be within [0, 1], got %v", *p)
	}
	return nil
}

// LLMOptions converts the configured sampling options for a chat request.
func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		Temperature: c.Options.Temperature,
		TopP:        c.Options.TopP,
		TopK:        c.Options.TopK,
		NumCtx:      c.Options.NumCtx,
	}
}

// ClientOptions returns the Ollama client options implied by the config.
func (c *Config) ClientOptions() []ollama.Option {
	return []ollama.Option{
		ollama.WithIdleTimeout(c.IdleTimeout.Duration),
		ollama.WithAcceptIncomplete(c.AcceptIncomplete),
	}
}
