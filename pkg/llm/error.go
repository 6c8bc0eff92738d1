// Package llm provides the wire representations of the Ollama inference API:
// chat and generate requests, their streamed records, and the model
// management payloads.
package llm

// ErrorResponse represents an error body from the Ollama API or from the
// ollama-chat HTTP server.
type ErrorResponse struct {
	Error string `json:"error"`
}
