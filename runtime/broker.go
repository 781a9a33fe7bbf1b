package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"campus-live/contract"
	"campus-live/domain"
	"campus-live/errors"

	"github.com/google/uuid"
)

var _ contract.IBroker = (*Broker)(nil)

// ManagerFactory builds a fresh, fully wired connection manager for one
// connection epoch. The broker hands it the state callback to fan
// transitions out to subscribers.
type ManagerFactory func(onState func(domain.StateChange)) contract.IManager

// Broker is the single shared instance UI components attach to. It
// reference-counts subscribers so that any number of independently
// mounted consumers share one connection: the manager starts on the
// first subscriber and is released when the last one detaches.
//
// A credential change restarts the connection while subscribers remain;
// a cleared credential stops it until login.
type Broker struct {
	log        *slog.Logger
	creds      contract.CredentialSupplier
	build      ManagerFactory
	identity   func() (userID, displayName string, err error)
	mux        *Multiplexer
	typing     *Tracker
	notifier   *Notifier
	credCancel func()

	mu      sync.Mutex
	subs    map[uuid.UUID]func(domain.StateChange)
	manager contract.IManager
	cancel  context.CancelFunc
	done    chan struct{}
	last    *domain.StateChange
	closed  bool
}

func NewBroker(
	log *slog.Logger,
	creds contract.CredentialSupplier,
	build ManagerFactory,
	identity func() (userID, displayName string, err error),
	mux *Multiplexer,
	typing *Tracker,
	notifier *Notifier,
) *Broker {
	b := &Broker{
		log:      log,
		creds:    creds,
		build:    build,
		identity: identity,
		mux:      mux,
		typing:   typing,
		notifier: notifier,
		subs:     make(map[uuid.UUID]func(domain.StateChange)),
	}
	b.credCancel = creds.OnChange(b.onCredentialChange)
	return b
}

// Conversations exposes the shared multiplexer.
func (b *Broker) Conversations() *Multiplexer { return b.mux }

// Typing exposes the shared typing tracker.
func (b *Broker) Typing() *Tracker { return b.typing }

// Notifications exposes the shared broadcaster.
func (b *Broker) Notifications() *Notifier { return b.notifier }

// Subscribe registers a connection-state listener. The first subscriber
// starts the connection manager; never before. New subscribers
// immediately receive the last known transition so indicators render
// without waiting for the next one.
func (b *Broker) Subscribe(fn func(domain.StateChange)) (cancel func(), err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.ErrBrokerClosed
	}

	id := uuid.New()
	b.subs[id] = fn
	if len(b.subs) == 1 {
		b.startLocked()
	}
	last := b.last
	b.mu.Unlock()

	if last != nil {
		fn(*last)
	}
	return func() { b.unsubscribe(id) }, nil
}

// Reconnect requests a fresh connection attempt, typically after the
// terminal Failed state. A no-op without subscribers.
func (b *Broker) Reconnect() {
	b.restart()
}

// Close tears the broker down for good. Subsequent Subscribe calls fail.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	done := b.done
	b.stopLocked()
	b.subs = make(map[uuid.UUID]func(domain.StateChange))
	b.mu.Unlock()

	if b.credCancel != nil {
		b.credCancel()
	}
	if done != nil {
		<-done
	}
	b.typing.Stop()
}

func (b *Broker) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	// Releasing the last subscriber cancels the connection, including
	// any in-flight reconnect backoff timer.
	if len(b.subs) == 0 {
		b.stopLocked()
	}
}

// startLocked launches a fresh manager epoch. Caller holds b.mu.
func (b *Broker) startLocked() {
	if b.manager != nil {
		// Already running; the connect request is coalesced.
		return
	}
	if b.creds.CurrentToken() == "" {
		b.log.Info("No credential yet, connection stays idle")
		b.recordLocked(domain.StateChange{State: domain.StateIdle, At: time.Now()})
		return
	}

	if userID, displayName, err := b.identity(); err != nil {
		b.log.Warn("Could not resolve local identity from credential", "error", err)
	} else {
		b.typing.SetSelf(userID, displayName)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Transitions are gated on the epoch that produced them, so a
	// superseded manager winding down cannot interleave its Closed with
	// the next epoch's Connecting.
	var manager contract.IManager
	onState := func(change domain.StateChange) {
		b.mu.Lock()
		if b.manager != manager {
			b.mu.Unlock()
			return
		}
		b.recordLocked(change)
		listeners := make([]func(domain.StateChange), 0, len(b.subs))
		for _, fn := range b.subs {
			listeners = append(listeners, fn)
		}
		b.mu.Unlock()

		for _, fn := range listeners {
			fn(change)
		}
	}

	manager = b.build(onState)
	b.manager = manager
	b.cancel = cancel
	prev := b.done
	done := make(chan struct{})
	b.done = done

	b.mux.SetManager(manager)
	b.typing.SetManager(manager)

	go func() {
		defer close(done)
		// A remount can race the previous epoch's teardown. Run starts
		// only once the old epoch has fully wound down, so at most one
		// connection is ever live.
		if prev != nil {
			<-prev
		}
		if err := manager.Run(ctx); err != nil {
			b.log.Warn("Connection manager stopped", "error", err)
		}
		b.mu.Lock()
		if b.manager == manager {
			b.manager = nil
			b.cancel = nil
		}
		b.mu.Unlock()
	}()
}

// stopLocked cancels the running epoch, if any. Caller holds b.mu.
func (b *Broker) stopLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.manager = nil
	// Sends issued between epochs fail fast instead of queueing.
	b.mux.SetManager(idleManager{})
	b.typing.SetManager(idleManager{})
}

// restart stops the current epoch, waits for it to wind down, and starts
// a new one when subscribers remain. Waiting keeps transitions strictly
// sequential across epochs.
func (b *Broker) restart() {
	b.mu.Lock()
	done := b.done
	b.stopLocked()
	b.mu.Unlock()

	if done != nil {
		<-done
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.subs) == 0 {
		return
	}
	b.startLocked()
}

func (b *Broker) onCredentialChange() {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	b.log.Info("Credential changed, restarting connection")
	b.restart()
}

func (b *Broker) recordLocked(change domain.StateChange) {
	b.last = &change
}
