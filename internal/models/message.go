package models

import (
	"fmt"
	"strings"
)

// Role tags who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation turn as exchanged with the chat endpoint.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat. Messages carry the full
// transcript; the last one is the user's new message.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Location string    `json:"location,omitempty"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Response string `json:"response"`
	ToolUsed string `json:"tool_used,omitempty"`
	Context  string `json:"context,omitempty"`
}

// Split validates the request and separates history from the new message.
func (r *ChatRequest) Split() ([]Message, Message, error) {
	if len(r.Messages) == 0 {
		return nil, Message{}, fmt.Errorf("messages must not be empty")
	}
	for i, m := range r.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return nil, Message{}, fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != RoleUser {
		return nil, Message{}, fmt.Errorf("last message must come from the user")
	}
	if strings.TrimSpace(last.Content) == "" {
		return nil, Message{}, fmt.Errorf("last message must not be empty")
	}
	return r.Messages[:len(r.Messages)-1], last, nil
}
