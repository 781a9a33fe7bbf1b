package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campus-live/contract"
	"campus-live/domain"
	"campus-live/domain/event"
	apperrors "campus-live/errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var _ contract.EventSink = (*Multiplexer)(nil)

var validate = validator.New()

// Multiplexer routes inbound message events to the conversation they
// belong to and services outbound sends. It is the only component that
// mutates conversation buffers; consumers get snapshots.
type Multiplexer struct {
	log     *slog.Logger
	manager contract.IManager
	history contract.HistoryFetcher
	poster  contract.MessagePoster // nil disables the fallback send path
	maxLen  int

	mu            sync.RWMutex
	conversations map[domain.ConversationID]*domain.Conversation
	listeners     map[uuid.UUID]func(domain.Message)
}

func NewMultiplexer(
	log *slog.Logger,
	manager contract.IManager,
	history contract.HistoryFetcher,
	poster contract.MessagePoster,
	maxMessageLength int,
) *Multiplexer {
	if manager == nil {
		manager = idleManager{}
	}
	return &Multiplexer{
		log:           log,
		manager:       manager,
		history:       history,
		poster:        poster,
		maxLen:        maxMessageLength,
		conversations: make(map[domain.ConversationID]*domain.Conversation),
		listeners:     make(map[uuid.UUID]func(domain.Message)),
	}
}

// OnMessage registers a push listener for live appends, so mounted views
// refresh without polling the buffer. The returned function removes it.
func (m *Multiplexer) OnMessage(fn func(domain.Message)) (cancel func()) {
	id := uuid.New()
	m.mu.Lock()
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetManager rebinds the live send path. The broker calls this when a
// credential change replaces the connection manager.
func (m *Multiplexer) SetManager(manager contract.IManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manager = manager
}

// Consume appends live messages to their conversation buffer. A buffer
// is created on the fly when history has not been loaded yet, so no live
// message is ever dropped. Other event kinds are not its concern.
func (m *Multiplexer) Consume(_ context.Context, e event.InboundEvent) error {
	received, ok := e.(event.MessageReceived)
	if !ok {
		return nil
	}

	m.mu.Lock()
	conv := m.ensureLocked(received.ConversationID())
	added := conv.Append(received.Message)
	listeners := make([]func(domain.Message), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if !added {
		m.log.Debug("Duplicate live message dropped",
			"conversation", conv.ID, "sender", received.Message.SenderID)
		return nil
	}
	for _, fn := range listeners {
		fn(received.Message)
	}
	return nil
}

// LoadHistory seeds a conversation buffer with the stored messages.
// The fetch runs without holding the lock, so live delivery for other
// conversations is never blocked. Only the first successful load seeds;
// later calls just return the current snapshot.
func (m *Multiplexer) LoadHistory(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	m.mu.RLock()
	conv, exists := m.conversations[id]
	loaded := exists && conv.HistoryLoaded()
	m.mu.RUnlock()

	if loaded {
		return m.Messages(id), nil
	}

	history, err := m.history.History(ctx, id)
	if err != nil {
		// Local to this conversation view; connection state untouched.
		return nil, fmt.Errorf("loading history for %s: %w", id, err)
	}

	m.mu.Lock()
	conv = m.ensureLocked(id)
	conv.SeedHistory(history)
	snapshot := conv.Messages()
	m.mu.Unlock()
	return snapshot, nil
}

// Send delivers one message, preferring the live channel. On the live
// path the caller does not see a local append; the buffer grows when the
// server echoes the message back. When the connection is down and a
// fallback poster is configured, the message goes out as a point-in-time
// request instead. The receipt tags which path was taken.
func (m *Multiplexer) Send(ctx context.Context, id domain.ConversationID, body string) (domain.SendReceipt, error) {
	if err := validateBody(body, m.maxLen); err != nil {
		return domain.SendReceipt{}, err
	}

	m.mu.RLock()
	manager, poster := m.manager, m.poster
	m.mu.RUnlock()

	liveErr := manager.SendMessage(ctx, id, body)
	if liveErr == nil {
		return domain.SendReceipt{Conversation: id, Path: domain.SentLive, At: time.Now()}, nil
	}
	if !errors.Is(liveErr, apperrors.ErrNotConnected) || poster == nil {
		return domain.SendReceipt{}, liveErr
	}

	if err := poster.PostMessage(ctx, id, body); err != nil {
		return domain.SendReceipt{}, err
	}
	m.log.Info("Message delivered via fallback path", "conversation", id)
	return domain.SendReceipt{Conversation: id, Path: domain.SentViaFallback, At: time.Now()}, nil
}

// Messages returns a snapshot of one conversation buffer, oldest first.
func (m *Multiplexer) Messages(id domain.ConversationID) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil
	}
	return conv.Messages()
}

// Tracked lists every conversation with a buffer. The manager uses it to
// re-attach inbound channels on each Connected entry.
func (m *Multiplexer) Tracked() []domain.ConversationID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Keys(m.conversations)
}

func (m *Multiplexer) ensureLocked(id domain.ConversationID) *domain.Conversation {
	conv, ok := m.conversations[id]
	if !ok {
		conv = domain.NewConversation(id)
		m.conversations[id] = conv
	}
	return conv
}

func validateBody(body string, maxLen int) error {
	if err := validate.Var(body, "required"); err != nil {
		return apperrors.ErrEmptyMessage
	}
	if err := validate.Var(body, fmt.Sprintf("max=%d", maxLen)); err != nil {
		return fmt.Errorf("message body exceeds %d characters", maxLen)
	}
	return nil
}
