package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single turn in a project's conversation log.
// Messages are append-only; Seq orders them against versions when timestamps tie.
type Message struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Role      Role      `json:"role"`    // "user" or "assistant"
	Content   string    `json:"content"` // The text content of the message
	Seq       int64     `json:"-"`
	Timestamp time.Time `json:"timestamp"` // Time the message was recorded
}
