//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"campus-live/domain"
	"campus-live/domain/event"
	"context"
)

// CredentialSupplier exposes the current auth token and a change signal.
// The library consumes it, never implements token storage itself.
type CredentialSupplier interface {
	// CurrentToken returns the bearer token, or "" when logged out.
	CurrentToken() string
	// OnChange registers fn to run on every login/logout. The returned
	// function cancels the registration.
	OnChange(fn func()) (cancel func())
}

// Transport is one live connection to the hub, already handshaken.
type Transport interface {
	Kind() domain.TransportKind
	// Subscribe attaches the inbound channels for the given
	// conversations. Some transports forget subscriptions on drop, so
	// the manager calls this again on every reconnect.
	Subscribe(ctx context.Context, conversations []domain.ConversationID) error
	SendMessage(ctx context.Context, id domain.ConversationID, body string) error
	SendTyping(ctx context.Context, id domain.ConversationID, who string) error
	// Events yields inbound events until the transport drops or closes.
	Events() <-chan event.InboundEvent
	// Errors reports a mid-session drop. At most one error is sent.
	Errors() <-chan error
	Close() error
}

// Dialer performs the handshake for one transport kind.
type Dialer interface {
	Kind() domain.TransportKind
	Dial(ctx context.Context, token string) (Transport, error)
}

// HistoryFetcher is the one-shot request/response call used to seed a
// conversation buffer. Independent of the live channel.
type HistoryFetcher interface {
	History(ctx context.Context, id domain.ConversationID) ([]domain.Message, error)
}

// MessagePoster is the point-in-time write path used when the live
// connection is down. Mutually exclusive with a live send per call.
type MessagePoster interface {
	PostMessage(ctx context.Context, id domain.ConversationID, body string) error
}

// EventSink consumes inbound events fanned out by the manager.
type EventSink interface {
	Consume(ctx context.Context, e event.InboundEvent) error
}

// IManager owns exactly one logical connection for the current credential.
type IManager interface {
	Run(ctx context.Context) error
	State() domain.State
	SendMessage(ctx context.Context, id domain.ConversationID, body string) error
	SendTyping(ctx context.Context, id domain.ConversationID, who string) error
}

// IBroker arbitrates the shared connection across UI subscribers.
type IBroker interface {
	Subscribe(fn func(domain.StateChange)) (cancel func(), err error)
	Reconnect()
	Close()
}
