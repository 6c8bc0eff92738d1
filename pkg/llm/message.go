package llm

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role      string     `json:"role"`                // "system", "user", "assistant"
	Content   string     `json:"content"`             // The message content
	Images    []string   `json:"images,omitempty"`    // Optional base64-encoded images (for multimodal)
	Timestamp *time.Time `json:"timestamp,omitempty"` // Set when the message is stored in a chat
}

// ValidRole reports whether role is one of the three conversation roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}
