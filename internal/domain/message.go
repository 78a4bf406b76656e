package domain

import (
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderBot    Sender = "bot"
	SenderSystem Sender = "system"
)

// Persisted reports whether messages from this sender are written to the store.
// System messages only ever live in the in-memory transcript.
func (s Sender) Persisted() bool {
	return s == SenderUser || s == SenderBot
}

// Eligibility is the structured result of a service availability check.
type Eligibility struct {
	IsEligible bool   `json:"is_eligible"`
	Details    string `json:"details"`
}

// Message belongs to exactly one conversation.
type Message struct {
	ID                  int64        `json:"id"`
	ConversationID      int64        `json:"conversation_id"`
	Sender              Sender       `json:"sender"`
	Content             string       `json:"content"`
	Language            Language     `json:"language,omitempty"`
	Timestamp           time.Time    `json:"timestamp"`
	IsEligibilityResult bool         `json:"is_eligibility_result"`
	Eligibility         *Eligibility `json:"eligibility,omitempty"`
}
