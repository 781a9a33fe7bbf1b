package domain

import "time"

// SendPath tags which delivery path carried an outbound message, so
// callers and tests can distinguish a live send from the fallback.
type SendPath string

const (
	SentLive        SendPath = "live"
	SentViaFallback SendPath = "fallback"
)

// SendReceipt confirms an accepted outbound message. On the live path the
// sender does not locally append; it waits for the server's echo.
type SendReceipt struct {
	Conversation ConversationID
	Path         SendPath
	At           time.Time
}
