package ollama

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/pkg/llm"
)

// ListModels returns the models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]llm.Model, error) {
	var list llm.ModelList
	if err := c.do(ctx, "GET", "/api/tags", nil, &list); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return list.Models, nil
}

// PullModel downloads a model. Progress records are passed to onProgress
// (which may be nil) as they arrive; the call returns once the server
// reports success. An error line from the server ends it with a
// StreamError.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(llm.PullProgress)) error {
	if name == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidRequest)
	}

	s, err := openStream[llm.PullProgress](ctx, c, "/api/pull", &llm.ModelRequest{Name: name, Stream: llm.Bool(true)})
	if err != nil {
		return fmt.Errorf("pull %s: %w", name, err)
	}
	defer s.Close()

	for s.Next() {
		if onProgress != nil {
			onProgress(s.Record())
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("pull %s: %w", name, err)
	}

	c.logger.Info("model pulled", zap.String("model", name))
	return nil
}

// DeleteModel removes a model from the server.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidRequest)
	}

	if err := c.do(ctx, "DELETE", "/api/delete", &llm.ModelRequest{Name: name}, nil); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}

	c.logger.Info("model deleted", zap.String("model", name))
	return nil
}
