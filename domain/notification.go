package domain

import (
	"encoding/json"
	"time"
)

// NotificationKind classifies account-scoped events pushed by the hub.
type NotificationKind string

const (
	KindEnrollmentStatusChanged NotificationKind = "enrollment-status-changed"
	KindEnrollmentListChanged   NotificationKind = "enrollment-list-changed"
	KindOther                   NotificationKind = "other"
)

// NotificationEvent is an ephemeral, conversation-independent event.
// The client keeps a bounded window of these; the server owns durability.
type NotificationEvent struct {
	Kind       NotificationKind
	Payload    json.RawMessage
	ReceivedAt time.Time
}
