// Package sqlite is a storage.Driver backed by a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"github.com/NurRobin/ollama-chat/pkg/chat"
	"github.com/NurRobin/ollama-chat/pkg/llm"
	"github.com/NurRobin/ollama-chat/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
    id            TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    model         TEXT NOT NULL,
    system_prompt TEXT NOT NULL DEFAULT '',
    messages      TEXT NOT NULL,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at);
`

const columns = `id, title, model, system_prompt, messages, created_at, updated_at`

// Driver stores chats in SQLite, one row per chat with the message history
// as a JSON column.
type Driver struct {
	db *sql.DB

	getStmt    *sql.Stmt
	existsStmt *sql.Stmt
	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver opens (creating if needed) the database at path. Use ":memory:"
// for a throwaway database.
func NewDriver(ctx context.Context, path string) (*Driver, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	d := &Driver{db: db}
	if err := d.prepare(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Driver) prepare(ctx context.Context) error {
	var err error
	prepare := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = d.db.PrepareContext(ctx, query)
		return stmt
	}

	d.getStmt = prepare(`SELECT ` + columns + ` FROM chats WHERE id = ?`)
	d.existsStmt = prepare(`SELECT 1 FROM chats WHERE id = ?`)
	d.upsertStmt = prepare(`INSERT INTO chats (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			messages = excluded.messages,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`)
	d.deleteStmt = prepare(`DELETE FROM chats WHERE id = ?`)

	if err != nil {
		return fmt.Errorf("failed to prepare statements: %w", err)
	}
	return nil
}

func (d *Driver) Put(ctx context.Context, c *chat.Chat) (bool, error) {
	if c == nil {
		return false, errors.New("cannot store nil chat")
	}
	if c.ID == "" {
		return false, errors.New("cannot store chat without id")
	}

	messages := c.Messages
	if messages == nil {
		messages = []llm.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return false, fmt.Errorf("failed to marshal messages: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.StmtContext(ctx, d.existsStmt).QueryRowContext(ctx, c.ID).Scan(&one)
	isNew := errors.Is(err, sql.ErrNoRows)
	if err != nil && !isNew {
		return false, fmt.Errorf("failed to check chat %s: %w", c.ID, err)
	}

	_, err = tx.StmtContext(ctx, d.upsertStmt).ExecContext(ctx,
		c.ID, c.Title, c.Model, c.SystemPrompt, string(data),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to store chat %s: %w", c.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit chat %s: %w", c.ID, err)
	}
	return isNew, nil
}

func (d *Driver) Get(ctx context.Context, id string) (*chat.Chat, error) {
	c, err := scanChat(d.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat %s: %w", id, err)
	}
	return c, nil
}

func (d *Driver) List(ctx context.Context) ([]*chat.Chat, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+columns+` FROM chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []*chat.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (d *Driver) Delete(ctx context.Context, id string) error {
	res, err := d.deleteStmt.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound{ID: id}
	}
	return nil
}

// Close closes the prepared statements and the database.
func (d *Driver) Close() error {
	var err error
	for _, stmt := range []*sql.Stmt{d.getStmt, d.existsStmt, d.upsertStmt, d.deleteStmt} {
		if stmt != nil {
			err = multierr.Append(err, stmt.Close())
		}
	}
	return multierr.Append(err, d.db.Close())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (*chat.Chat, error) {
	var (
		c                    chat.Chat
		messages             string
		createdAt, updatedAt string
	)

	if err := row.Scan(&c.ID, &c.Title, &c.Model, &c.SystemPrompt, &messages, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messages), &c.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages of chat %s: %w", c.ID, err)
	}

	var err error
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at of chat %s: %w", c.ID, err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at of chat %s: %w", c.ID, err)
	}
	return &c, nil
}

// formatTime stores UTC with a fixed width so text ordering matches time
// ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
