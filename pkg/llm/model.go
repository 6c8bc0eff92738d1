package llm

import "time"

// Model is one entry of the /api/tags listing.
type Model struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails carries the optional descriptive fields of a model.
type ModelDetails struct {
	Format            string `json:"format,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

// ModelList is the body of GET /api/tags.
type ModelList struct {
	Models []Model `json:"models"`
}

// ModelRequest names a model for pull and delete.
type ModelRequest struct {
	Name   string `json:"name"`
	Stream *bool  `json:"stream,omitempty"`
}

// PullProgress is one record of the /api/pull progress stream.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Text returns the status line of the progress record.
func (p PullProgress) Text() string { return p.Status }

// Final reports whether the pull has finished.
func (p PullProgress) Final() bool { return p.Status == "success" }

// RecordKeys lists the keys a pull progress record carries.
func (p PullProgress) RecordKeys() []string { return []string{"status"} }
