package llm

import "time"

// StreamChunk represents a single record in a streaming chat response.
// Records arrive one JSON object per line; the last one has Done set.
type StreamChunk struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   Message   `json:"message"`
	Done      bool      `json:"done"`

	// Final chunk includes metrics
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// Text returns the incremental text carried by the record.
func (c StreamChunk) Text() string { return c.Message.Content }

// Final reports whether this is the terminal record.
func (c StreamChunk) Final() bool { return c.Done }

// RecordKeys lists the keys a chat stream record carries.
func (c StreamChunk) RecordKeys() []string { return []string{"message", "done"} }

// Response builds the reassembled response from the terminal record and the
// accumulated content.
func (c StreamChunk) Response(content string) *ChatResponse {
	return &ChatResponse{
		Model:              c.Model,
		CreatedAt:          c.CreatedAt,
		Message:            Message{Role: RoleAssistant, Content: content},
		Done:               true,
		TotalDuration:      c.TotalDuration,
		LoadDuration:       c.LoadDuration,
		PromptEvalCount:    c.PromptEvalCount,
		PromptEvalDuration: c.PromptEvalDuration,
		EvalCount:          c.EvalCount,
		EvalDuration:       c.EvalDuration,
	}
}
