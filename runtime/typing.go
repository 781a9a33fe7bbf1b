package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"campus-live/contract"
	"campus-live/domain"
	"campus-live/domain/event"
	apperrors "campus-live/errors"
)

var _ contract.EventSink = (*Tracker)(nil)

// Tracker maintains the time-boxed "currently typing" set per
// conversation and throttles outbound typing pings. Typing state is
// last-write-wins per identity and fully independent of message flow.
type Tracker struct {
	log      *slog.Logger
	manager  contract.IManager
	ttl      time.Duration
	debounce time.Duration

	mu       sync.Mutex
	selfID   string
	selfName string
	typing   map[domain.ConversationID]map[string]*time.Timer
	lastPing map[domain.ConversationID]time.Time
}

func NewTracker(log *slog.Logger, manager contract.IManager, ttl, debounce time.Duration) *Tracker {
	if manager == nil {
		manager = idleManager{}
	}
	return &Tracker{
		log:      log,
		manager:  manager,
		ttl:      ttl,
		debounce: debounce,
		typing:   make(map[domain.ConversationID]map[string]*time.Timer),
		lastPing: make(map[domain.ConversationID]time.Time),
	}
}

// SetSelf records the local identity so the user never appears in their
// own typing set. Both the user id and the display name are matched,
// since hubs differ in which one they echo.
func (t *Tracker) SetSelf(userID, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selfID = userID
	t.selfName = displayName
}

// SetManager rebinds the outbound ping path after a manager swap.
func (t *Tracker) SetManager(manager contract.IManager) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manager = manager
}

// Consume registers an inbound typing ping. A repeated ping before
// expiry reschedules the existing entry, it never duplicates it.
func (t *Tracker) Consume(_ context.Context, e event.InboundEvent) error {
	ping, ok := e.(event.TypingPing)
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if ping.Who == "" || ping.Who == t.selfID || ping.Who == t.selfName {
		return nil
	}

	set, ok := t.typing[ping.Conversation]
	if !ok {
		set = make(map[string]*time.Timer)
		t.typing[ping.Conversation] = set
	}

	if timer, ok := set[ping.Who]; ok {
		timer.Reset(t.ttl)
		return nil
	}
	conversation, who := ping.Conversation, ping.Who
	set[who] = time.AfterFunc(t.ttl, func() {
		t.expire(conversation, who)
	})
	return nil
}

// Typing returns who is currently typing in a conversation, sorted for
// stable rendering.
func (t *Tracker) Typing(id domain.ConversationID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.typing[id]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(set))
	for who := range set {
		names = append(names, who)
	}
	sort.Strings(names)
	return names
}

// NotifyTyping sends at most one outbound ping per debounce window for a
// conversation. Pings lost while disconnected are dropped silently:
// typing signals are best-effort by design of the channel, and queueing
// them would only replay stale state.
func (t *Tracker) NotifyTyping(ctx context.Context, id domain.ConversationID) error {
	t.mu.Lock()
	if last, ok := t.lastPing[id]; ok && time.Since(last) < t.debounce {
		t.mu.Unlock()
		return nil
	}
	t.lastPing[id] = time.Now()
	manager, who := t.manager, t.selfName
	t.mu.Unlock()

	err := manager.SendTyping(ctx, id, who)
	if errors.Is(err, apperrors.ErrNotConnected) {
		t.log.Debug("Typing ping dropped, not connected", "conversation", id)
		return nil
	}
	return err
}

// Stop cancels every pending expiry timer. Called on broker teardown.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, set := range t.typing {
		for _, timer := range set {
			timer.Stop()
		}
	}
	t.typing = make(map[domain.ConversationID]map[string]*time.Timer)
}

func (t *Tracker) expire(id domain.ConversationID, who string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.typing[id]
	if !ok {
		return
	}
	delete(set, who)
	if len(set) == 0 {
		delete(t.typing, id)
	}
}
