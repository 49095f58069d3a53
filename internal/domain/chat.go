package domain

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message exchanged with the
// generation backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
