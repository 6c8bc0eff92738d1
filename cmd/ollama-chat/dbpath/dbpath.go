// Package dbpath resolves where the chat database lives.
package dbpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/NurRobin/ollama-chat/pkg/config"
)

// FileName is the default database file name inside the config directory.
const FileName = "chats.db"

// Resolve picks the database path: an explicit flag value first, then the
// configured storage path, then ~/.ollama-chat/chats.db. A leading "~/" is
// expanded.
func Resolve(flag string, cfg *config.Config) (string, error) {
	path := flag
	if path == "" && cfg != nil {
		path = cfg.Storage.Path
	}

	if path == "" {
		dir, err := config.Dir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, FileName), nil
	}

	if path == ":memory:" {
		return path, nil
	}

	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not expand %s: %w", path, err)
		}
		path = filepath.Join(home, rest)
	}
	return filepath.Abs(path)
}
