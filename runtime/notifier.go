package runtime

import (
	"context"
	"log/slog"
	"sync"

	"campus-live/contract"
	"campus-live/domain"
	"campus-live/domain/event"

	"github.com/google/uuid"
)

var _ contract.EventSink = (*Notifier)(nil)

// Notifier fans account-scoped events out to any number of UI
// subscribers, independent of which conversation is open. Delivery is
// at-least-once: the same event reaches every mounted listener, and
// listeners must tolerate that.
//
// It holds a bounded window of past events so a consumer can choose
// between "latest only" and the accumulated list.
type Notifier struct {
	log   *slog.Logger
	limit int

	mu     sync.RWMutex
	events []domain.NotificationEvent
	subs   map[uuid.UUID]func(domain.NotificationEvent)
}

func NewNotifier(log *slog.Logger, limit int) *Notifier {
	return &Notifier{
		log:   log,
		limit: limit,
		subs:  make(map[uuid.UUID]func(domain.NotificationEvent)),
	}
}

// Consume stores the event and pushes it to every subscriber.
func (n *Notifier) Consume(_ context.Context, e event.InboundEvent) error {
	posted, ok := e.(event.NotificationPosted)
	if !ok {
		return nil
	}

	n.mu.Lock()
	n.events = append(n.events, posted.Event)
	if len(n.events) > n.limit {
		n.events = n.events[len(n.events)-n.limit:]
	}
	listeners := make([]func(domain.NotificationEvent), 0, len(n.subs))
	for _, fn := range n.subs {
		listeners = append(listeners, fn)
	}
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(posted.Event)
	}
	return nil
}

// Subscribe registers a push listener. The returned function removes it.
func (n *Notifier) Subscribe(fn func(domain.NotificationEvent)) (cancel func()) {
	id := uuid.New()
	n.mu.Lock()
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Latest returns the most recent event, if any.
func (n *Notifier) Latest() (domain.NotificationEvent, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.events) == 0 {
		return domain.NotificationEvent{}, false
	}
	return n.events[len(n.events)-1], true
}

// All returns the accumulated window, oldest first.
func (n *Notifier) All() []domain.NotificationEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]domain.NotificationEvent, len(n.events))
	copy(out, n.events)
	return out
}

// Clear empties the held window. Server state is untouched; events
// already pushed to listeners stay pushed.
func (n *Notifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}
