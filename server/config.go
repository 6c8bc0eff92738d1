package server

// Config is the HTTP server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// DefaultModel is used for chats created without a model.
	DefaultModel string

	// DefaultSystemPrompt is used for chats created without a system prompt.
	DefaultSystemPrompt string
}
