package ollama

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/pkg/llm"
)

// ChatStream is a streamed /api/chat response.
type ChatStream = Stream[llm.StreamChunk]

// OpenChatStream starts a streamed chat completion. The request is copied
// with stream forced on; the caller's value is not modified.
//
// A non-success status fails with an *EndpointError before any record is
// read. The returned stream must be closed.
func (c *Client) OpenChatStream(ctx context.Context, req *llm.ChatRequest) (*ChatStream, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	body := *req
	body.Stream = llm.Bool(true)

	c.logger.Debug("starting chat stream",
		zap.String("model", body.Model),
		zap.Int("message_count", len(body.Messages)),
	)

	return openStream[llm.StreamChunk](ctx, c, "/api/chat", &body)
}

// StreamChat runs a streamed chat completion to its end. onChunk receives
// each record's text in wire order, including empty fragments; onComplete
// is called exactly once with the full text, and only when the stream
// reached its final record. Either callback may be nil.
//
// Text delivered through onChunk is speculative until onComplete fires: on
// any error it is not retracted, but onComplete is never called.
func (c *Client) StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk, onComplete func(string)) error {
	s, err := c.OpenChatStream(ctx, req)
	if err != nil {
		return err
	}
	return drain(s, onChunk, onComplete)
}

// Chat performs a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	body := *req
	body.Stream = llm.Bool(false)

	var resp llm.ChatResponse
	if err := c.do(ctx, "POST", "/api/chat", &body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChatResponse assembles the response of a completed chat stream: the final
// record's metrics with the accumulated content. It returns nil if the
// stream has not completed.
func ChatResponse(s *ChatStream) *llm.ChatResponse {
	if !s.Completed() {
		return nil
	}
	return s.Last().Response(s.Content())
}
