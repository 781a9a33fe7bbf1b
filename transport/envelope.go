// Package transport implements the hub-facing wire layer: the JSON
// envelope shared by both transports, the websocket primary transport,
// the polling fallback, and the history fetch client.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"campus-live/domain"
	"campus-live/domain/event"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Outbound channel names. Inbound names live in the event package.
const (
	channelSendMessage = "send-message"
	channelTypingPing  = "typing-ping"
	channelSubscribe   = "subscribe"
)

// Envelope is the wire format for every frame on every transport.
type Envelope struct {
	Channel       string          `json:"channel"`
	Conversation  string          `json:"conversationId,omitempty"`
	Conversations []string        `json:"conversations,omitempty"`
	MessageID     string          `json:"messageId,omitempty"`
	SenderID      string          `json:"senderId,omitempty"`
	SenderName    string          `json:"senderName,omitempty"`
	Body          string          `json:"body,omitempty"`
	Who           string          `json:"who,omitempty"`
	Kind          string          `json:"kind,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SentAt        time.Time       `json:"sentAt,omitzero"`
}

// ToEvent maps an inbound envelope to its logical event.
func (e Envelope) ToEvent() (event.InboundEvent, error) {
	switch e.Channel {
	case event.ChannelMessage:
		id, _ := uuid.Parse(e.MessageID)
		return event.MessageReceived{Message: domain.Message{
			ID:           id,
			Conversation: domain.ConversationID(e.Conversation),
			SenderID:     e.SenderID,
			SenderName:   e.SenderName,
			Body:         e.Body,
			SentAt:       e.SentAt,
		}}, nil
	case event.ChannelTyping:
		return event.TypingPing{
			Conversation: domain.ConversationID(e.Conversation),
			Who:          e.Who,
		}, nil
	case event.ChannelNotification:
		kind := domain.NotificationKind(e.Kind)
		switch kind {
		case domain.KindEnrollmentStatusChanged, domain.KindEnrollmentListChanged:
		default:
			kind = domain.KindOther
		}
		return event.NotificationPosted{Event: domain.NotificationEvent{
			Kind:       kind,
			Payload:    e.Payload,
			ReceivedAt: time.Now(),
		}}, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", e.Channel)
	}
}

func messageFrame(id domain.ConversationID, body string) Envelope {
	return Envelope{
		Channel:      channelSendMessage,
		Conversation: string(id),
		Body:         body,
		SentAt:       time.Now().UTC(),
	}
}

func typingFrame(id domain.ConversationID, who string) Envelope {
	return Envelope{
		Channel:      channelTypingPing,
		Conversation: string(id),
		Who:          who,
	}
}

func subscribeFrame(conversations []domain.ConversationID) Envelope {
	return Envelope{
		Channel: channelSubscribe,
		Conversations: lo.Map(conversations, func(id domain.ConversationID, _ int) string {
			return string(id)
		}),
	}
}
