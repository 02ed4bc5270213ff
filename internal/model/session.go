package model

type ChatSession struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	DocumentID   string `json:"document_id,omitempty"`
	DocumentName string `json:"document_name,omitempty"`
	Ctime        int64  `json:"ctime"`
}

type MessageRole string

const (
	RoleUser MessageRole = "user"
	RoleAI   MessageRole = "ai"
)

type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Ctime     int64       `json:"ctime"`
}
