// Package runtime contains the live parts of the messaging client: the
// connection manager, the conversation multiplexer, the typing tracker,
// the notification broadcaster, and the subscription broker that ties
// their lifecycles together.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campus-live/contract"
	"campus-live/domain"
	"campus-live/domain/event"
	"campus-live/errors"

	"github.com/cenkalti/backoff/v4"
)

var _ contract.IManager = (*Manager)(nil)

// Manager owns exactly one logical connection to the hub for the current
// credential. It runs the state machine
// Idle -> Connecting -> Connected -> Reconnecting -> Closed, with Failed
// as the absorbing state once the fallback transport is also exhausted.
//
// Transitions are strictly sequential: everything happens on the Run
// goroutine, so no two transitions are ever in flight at once.
type Manager struct {
	log      *slog.Logger
	creds    contract.CredentialSupplier
	primary  contract.Dialer
	fallback contract.Dialer

	backoffInitial time.Duration
	backoffMax     time.Duration

	sinks   []contract.EventSink
	onState func(domain.StateChange)
	resub   func() []domain.ConversationID

	mu        sync.RWMutex
	state     domain.State
	transport contract.Transport
	running   bool
}

func NewManager(
	log *slog.Logger,
	creds contract.CredentialSupplier,
	primary, fallback contract.Dialer,
	backoffInitial, backoffMax time.Duration,
) *Manager {
	return &Manager{
		log:            log,
		creds:          creds,
		primary:        primary,
		fallback:       fallback,
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		state:          domain.StateIdle,
		resub:          func() []domain.ConversationID { return nil },
	}
}

// AddSinks registers inbound event consumers. Must be called before Run.
func (m *Manager) AddSinks(sinks ...contract.EventSink) {
	m.sinks = append(m.sinks, sinks...)
}

// OnState registers the transition callback. Must be called before Run.
func (m *Manager) OnState(fn func(domain.StateChange)) {
	m.onState = fn
}

// WithResubscribe sets the provider of conversations to re-attach on
// every Connected entry. Must be called before Run.
func (m *Manager) WithResubscribe(fn func() []domain.ConversationID) {
	m.resub = fn
}

func (m *Manager) State() domain.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Run drives the connection until ctx is cancelled or both transports
// fail during the initial handshake. A second Run while one is already
// in flight is coalesced into a no-op.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Debug("Connect request coalesced, manager already running")
		return nil
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	token := m.creds.CurrentToken()
	if token == "" {
		return errors.ErrNoCredential
	}

	m.setState(domain.StateConnecting, "", nil)
	tr, err := m.dialAny(ctx, token)
	if err != nil {
		// Both transports failed during handshake: terminal, no retry
		// until the credential changes or a reconnect is requested.
		m.setState(domain.StateFailed, "", err)
		return err
	}

	for {
		dropErr := m.session(ctx, tr)
		if ctx.Err() != nil {
			m.setState(domain.StateClosed, "", nil)
			return nil
		}

		m.setState(domain.StateReconnecting, tr.Kind(), dropErr)
		tr, err = m.redial(ctx, token)
		if err != nil {
			m.setState(domain.StateClosed, "", nil)
			return nil
		}
	}
}

// SendMessage forwards a message over the live transport. Fails fast
// with ErrNotConnected instead of queuing.
func (m *Manager) SendMessage(ctx context.Context, id domain.ConversationID, body string) error {
	tr, err := m.liveTransport()
	if err != nil {
		return err
	}
	return tr.SendMessage(ctx, id, body)
}

// SendTyping forwards a typing ping. Fire-and-forget for the caller;
// a ping lost while disconnected is not an error worth surfacing.
func (m *Manager) SendTyping(ctx context.Context, id domain.ConversationID, who string) error {
	tr, err := m.liveTransport()
	if err != nil {
		return err
	}
	return tr.SendTyping(ctx, id, who)
}

func (m *Manager) liveTransport() (contract.Transport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != domain.StateConnected || m.transport == nil {
		return nil, errors.ErrNotConnected
	}
	return m.transport, nil
}

// session attaches the inbound wiring and pumps events until the
// transport drops or ctx is cancelled. Returns the drop cause.
func (m *Manager) session(ctx context.Context, tr contract.Transport) error {
	m.mu.Lock()
	m.transport = tr
	m.mu.Unlock()

	// Inbound channels are re-attached on every Connected entry: some
	// transports forget subscriptions across a reconnect.
	if err := tr.Subscribe(ctx, m.resub()); err != nil {
		_ = tr.Close()
		m.clearTransport()
		return err
	}
	m.setState(domain.StateConnected, tr.Kind(), nil)

	defer m.clearTransport()
	for {
		select {
		case <-ctx.Done():
			_ = tr.Close()
			return ctx.Err()
		case err := <-tr.Errors():
			_ = tr.Close()
			return err
		case evt, ok := <-tr.Events():
			if !ok {
				_ = tr.Close()
				select {
				case err := <-tr.Errors():
					return err
				default:
					return errors.ErrTransportClosed
				}
			}
			m.fanout(ctx, evt)
		}
	}
}

func (m *Manager) clearTransport() {
	m.mu.Lock()
	m.transport = nil
	m.mu.Unlock()
}

// fanout delivers one inbound event to every sink. A failing sink is
// logged and skipped; it must not stall the others.
func (m *Manager) fanout(ctx context.Context, evt event.InboundEvent) {
	for _, sink := range m.sinks {
		if err := sink.Consume(ctx, evt); err != nil {
			m.log.Warn("Sink rejected event", "channel", evt.Channel(), "error", err)
		}
	}
}

// dialAny tries the primary transport, then the fallback.
func (m *Manager) dialAny(ctx context.Context, token string) (contract.Transport, error) {
	tr, primaryErr := m.primary.Dial(ctx, token)
	if primaryErr == nil {
		return tr, nil
	}
	m.log.Warn("Primary transport handshake failed, trying fallback",
		"primary", m.primary.Kind(), "error", primaryErr)

	tr, fallbackErr := m.fallback.Dial(ctx, token)
	if fallbackErr == nil {
		m.log.Info("Connected over fallback transport", "transport", m.fallback.Kind())
		return tr, nil
	}

	return nil, fmt.Errorf("%w: %s: %v; %s: %v", errors.ErrTransportsExhausted,
		m.primary.Kind(), primaryErr, m.fallback.Kind(), fallbackErr)
}

// redial retries dialAny under capped exponential backoff with jitter.
// The first attempt is immediate; later ones grow from backoffInitial to
// backoffMax and repeat at the cap until success or cancellation.
func (m *Manager) redial(ctx context.Context, token string) (contract.Transport, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.backoffInitial
	policy.MaxInterval = m.backoffMax
	policy.MaxElapsedTime = 0

	for {
		tr, err := m.dialAny(ctx, token)
		if err == nil {
			return tr, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		wait := policy.NextBackOff()
		m.log.Info("Reconnect attempt failed, backing off", "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// idleManager is the send path before any connection epoch exists and
// after teardown. Every send fails fast instead of queueing.
type idleManager struct{}

func (idleManager) Run(context.Context) error { return errors.ErrNoCredential }

func (idleManager) State() domain.State { return domain.StateIdle }

func (idleManager) SendMessage(context.Context, domain.ConversationID, string) error {
	return errors.ErrNotConnected
}

func (idleManager) SendTyping(context.Context, domain.ConversationID, string) error {
	return errors.ErrNotConnected
}

func (m *Manager) setState(state domain.State, transport domain.TransportKind, err error) {
	m.mu.Lock()
	m.state = state
	onState := m.onState
	m.mu.Unlock()

	m.log.Info("Connection state changed", "state", state, "transport", transport, "error", err)
	if onState != nil {
		onState(domain.StateChange{
			State:     state,
			Transport: transport,
			Err:       err,
			At:        time.Now(),
		})
	}
}
