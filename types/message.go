package types

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation history handed to the LLM.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn records one completed user/assistant exchange. Turns are appended to
// the session history only on successful completion; a cancelled turn leaves
// no trace.
type Turn struct {
	ID            string        `json:"id"`
	UserText      string        `json:"user_text"`
	AssistantText string        `json:"assistant_text"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
	Chunks        int           `json:"chunks"`
	FirstChunkLag time.Duration `json:"first_chunk_lag,omitempty"`
}

// NewTurnID returns a fresh turn identifier.
func NewTurnID() string {
	return uuid.NewString()
}

// History converts completed turns plus an optional system prompt into the
// flat message list consumed by the LLM capability.
func History(systemPrompt string, turns []Turn) []Message {
	msgs := make([]Message, 0, 2*len(turns)+1)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	for _, t := range turns {
		msgs = append(msgs, Message{Role: RoleUser, Content: t.UserText})
		msgs = append(msgs, Message{Role: RoleAssistant, Content: t.AssistantText})
	}
	return msgs
}
