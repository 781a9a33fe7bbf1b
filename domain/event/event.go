package event

import (
	"campus-live/domain"
)

// Logical channel names carried on the wire, independent of transport.
const (
	ChannelMessage      = "message-received"
	ChannelTyping       = "typing"
	ChannelNotification = "notification"
)

// InboundEvent is anything the hub pushes to the client.
type InboundEvent interface {
	Channel() string
}

// MessageReceived carries one live chat message for a conversation.
type MessageReceived struct {
	Message domain.Message
}

func (e MessageReceived) Channel() string { return ChannelMessage }

func (e MessageReceived) ConversationID() domain.ConversationID {
	return e.Message.Conversation
}

// TypingPing signals that an identity is typing in a conversation.
type TypingPing struct {
	Conversation domain.ConversationID
	Who          string
}

func (e TypingPing) Channel() string { return ChannelTyping }

func (e TypingPing) ConversationID() domain.ConversationID {
	return e.Conversation
}

// NotificationPosted carries an account-scoped event, not tied to any
// conversation.
type NotificationPosted struct {
	Event domain.NotificationEvent
}

func (e NotificationPosted) Channel() string { return ChannelNotification }
