package domain

import "time"

// InboundMessage is the single user message extracted from one webhook call.
type InboundMessage struct {
	SenderID  string
	Text      string
	MessageID string
}

// StoredMessage is a persisted inbound message. Records are append-only.
type StoredMessage struct {
	ID        string
	SenderID  string
	Text      string
	CreatedAt time.Time
}
