// Package ollama is a client for the Ollama HTTP API. Its centre is the
// streaming chat client: it reads the newline-delimited JSON records of a
// streamed completion, hands each text fragment to the caller as it arrives
// and reassembles the full reply.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/pkg/llm"
)

// DefaultHost is where a local Ollama server listens by default.
const DefaultHost = "http://localhost:11434"

// DefaultRequestTimeout bounds non-streaming calls.
const DefaultRequestTimeout = 5 * time.Minute

var transport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
}

// Client talks to one Ollama server. It holds no per-request state and is
// safe for concurrent use; every stream owns its own buffers.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	logger           *zap.Logger
	idleTimeout      time.Duration
	requestTimeout   time.Duration
	acceptIncomplete bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout should be zero, since
// it would cut long streams short; use WithIdleTimeout instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for skipped records and request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithIdleTimeout fails a request with a TimeoutError when no bytes arrive
// for d, both while waiting for response headers and between body reads.
// Zero disables the bound.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithAcceptIncomplete makes a stream that ends without a final record
// complete with the text received so far instead of failing with an
// IncompleteStreamError.
func WithAcceptIncomplete(accept bool) Option {
	return func(c *Client) { c.acceptIncomplete = accept }
}

// New creates a client for the server at baseURL (e.g. "http://localhost:11434").
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultHost
	}

	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Transport: transport},
		logger:         zap.NewNop(),
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// do sends a non-streaming JSON request and decodes a JSON response into out
// (which may be nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("sending request",
		zap.String("method", method),
		zap.String("url", httpReq.URL.String()),
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	if err := checkStatus(httpResp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatus turns a non-2xx response into an EndpointError. The body is
// read (bounded) to pick up Ollama's {"error": "..."} message.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	e := &EndpointError{StatusCode: resp.StatusCode, Status: resp.Status}
	if e.Status == "" {
		e.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if resp.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr llm.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			e.Message = apiErr.Error
		} else {
			e.Message = strings.TrimSpace(string(body))
		}
	}
	return e
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
