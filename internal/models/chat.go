// internal/models/chat.go
package models

import "time"

// ChatRole 对话角色
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// NormalizeRole 旧数据里的 "model" 统一视为 assistant
func NormalizeRole(role string) ChatRole {
	switch role {
	case "model", "assistant":
		return RoleAssistant
	default:
		return RoleUser
	}
}

// ChatMessage 侧边对话中的一条消息，不做持久化
type ChatMessage struct {
	ID          string    `json:"id"`
	Role        ChatRole  `json:"role"`
	Text        string    `json:"text"`
	IsStreaming bool      `json:"is_streaming,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
