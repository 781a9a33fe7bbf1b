// Package domain contains core concepts of the messaging client.
// This file defines Message events and related rules.
// Messages are immutable and validated by the domain.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConversationID identifies a conversation (a course or group channel).
// It is opaque to this layer; the server assigns it.
type ConversationID string

// Message represents an immutable chat event.
type Message struct {
	ID           uuid.UUID // unique identifier
	Conversation ConversationID
	SenderID     string
	SenderName   string
	Body         string
	SentAt       time.Time
}

// DedupKey identifies a message across the live stream and a history
// fetch covering the same window. The server is the ordering authority,
// so equality of sender, timestamp and body is treated as the same event.
func (m Message) DedupKey() string {
	return fmt.Sprintf("%s|%d|%s", m.SenderID, m.SentAt.UnixNano(), m.Body)
}
