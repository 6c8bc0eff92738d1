package llm

import "time"

// GenerateRequest represents a raw completion request to /api/generate.
type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	System  string   `json:"system,omitempty"`
	Context []int    `json:"context,omitempty"` // Token context returned by a previous call
	Stream  *bool    `json:"stream,omitempty"`
	Raw     bool     `json:"raw,omitempty"`
	Format  string   `json:"format,omitempty"`
	Options *Options `json:"options,omitempty"`
}

// GenerateResponse is both the non-streaming response of /api/generate and
// each record of its stream.
type GenerateResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Response  string    `json:"response"`
	Done      bool      `json:"done"`

	// Context for continuation (Ollama-specific)
	Context []int `json:"context,omitempty"`

	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// Text returns the incremental text carried by the record.
func (g GenerateResponse) Text() string { return g.Response }

// Final reports whether this is the terminal record.
func (g GenerateResponse) Final() bool { return g.Done }

// RecordKeys lists the keys a generate stream record carries.
func (g GenerateResponse) RecordKeys() []string { return []string{"response", "done"} }
