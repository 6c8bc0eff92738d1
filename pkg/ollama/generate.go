package ollama

import (
	"context"
	"fmt"

	"github.com/NurRobin/ollama-chat/pkg/llm"
)

// GenerateStream is a streamed /api/generate response.
type GenerateStream = Stream[llm.GenerateResponse]

func validateGenerate(req *llm.GenerateRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if req.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	return nil
}

// OpenGenerateStream starts a streamed raw completion.
func (c *Client) OpenGenerateStream(ctx context.Context, req *llm.GenerateRequest) (*GenerateStream, error) {
	if err := validateGenerate(req); err != nil {
		return nil, err
	}

	body := *req
	body.Stream = llm.Bool(true)
	return openStream[llm.GenerateResponse](ctx, c, "/api/generate", &body)
}

// StreamGenerate runs a streamed raw completion to its end, with the same
// callback contract as StreamChat.
func (c *Client) StreamGenerate(ctx context.Context, req *llm.GenerateRequest, onChunk, onComplete func(string)) error {
	s, err := c.OpenGenerateStream(ctx, req)
	if err != nil {
		return err
	}
	return drain(s, onChunk, onComplete)
}

// Generate performs a non-streaming raw completion.
func (c *Client) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if err := validateGenerate(req); err != nil {
		return nil, err
	}

	body := *req
	body.Stream = llm.Bool(false)

	var resp llm.GenerateResponse
	if err := c.do(ctx, "POST", "/api/generate", &body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
