package chatscmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/pkg/chat"
	"github.com/NurRobin/ollama-chat/pkg/storage"
)

const pushLongDesc string = `Push local chats to a remote ollama-chat server.

Reads every chat from the local store and POSTs them in batches to
the server's /api/chats/import endpoint, which keeps the most recently
updated copy of each chat.

Examples:
  ollama-chat chats push http://192.168.1.42:8080
  ollama-chat chats push --db ~/.ollama-chat/chats.db http://localhost:8080`

const pushShortDesc string = "Push chats to a remote ollama-chat server"

type pushCommander struct {
	batchSize int
}

func NewPushCmd() *cobra.Command {
	cmder := &pushCommander{}

	cmd := &cobra.Command{
		Use:   "push <server-url>",
		Short: pushShortDesc,
		Long:  pushLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().IntVar(&cmder.batchSize, "batch-size", 100, "Chats per HTTP request")

	return cmd
}

func (c *pushCommander) run(ctx context.Context, cmd *cobra.Command, serverURL string) error {
	serverURL = strings.TrimRight(serverURL, "/")
	if c.batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.batchSize)
	}

	env, err := appenv.Load(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	store, err := env.OpenStore(ctx)
	if err != nil {
		return err
	}

	chats, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("could not list local chats: %w", err)
	}

	if len(chats) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No local chats to push.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushing %d chats to %s\n", len(chats), serverURL)

	var total storage.MergeCounts

	for i := 0; i < len(chats); i += c.batchSize {
		end := min(i+c.batchSize, len(chats))

		counts, err := postBatch(ctx, serverURL, chats[i:end])
		if err != nil {
			return fmt.Errorf("push failed on batch %d-%d: %w", i, end-1, err)
		}

		total.Added += counts.Added
		total.Updated += counts.Updated
		total.Kept += counts.Kept
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d chats: %d added, %d updated, %d already up to date\n",
		len(chats), total.Added, total.Updated, total.Kept)

	return nil
}

func postBatch(ctx context.Context, serverURL string, chats []*chat.Chat) (*storage.MergeCounts, error) {
	body, err := json.Marshal(chats)
	if err != nil {
		return nil, fmt.Errorf("could not marshal chats: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/chats/import", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result storage.MergeCounts
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}

	return &result, nil
}
