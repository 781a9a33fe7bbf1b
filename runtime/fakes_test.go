package runtime

import (
	"context"
	"sync"

	"campus-live/contract"
	"campus-live/domain"
	"campus-live/domain/event"
)

// Hand-written fakes shared by the runtime tests.

type sentFrame struct {
	conversation domain.ConversationID
	body         string
	who          string
}

type fakeTransport struct {
	kind   domain.TransportKind
	events chan event.InboundEvent
	errs   chan error

	mu         sync.Mutex
	subscribes [][]domain.ConversationID
	sent       []sentFrame
	closed     bool
}

func newFakeTransport(kind domain.TransportKind) *fakeTransport {
	return &fakeTransport{
		kind:   kind,
		events: make(chan event.InboundEvent, 16),
		errs:   make(chan error, 1),
	}
}

func (t *fakeTransport) Kind() domain.TransportKind { return t.kind }

func (t *fakeTransport) Events() <-chan event.InboundEvent { return t.events }

func (t *fakeTransport) Errors() <-chan error { return t.errs }

func (t *fakeTransport) Subscribe(_ context.Context, conversations []domain.ConversationID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribes = append(t.subscribes, conversations)
	return nil
}

func (t *fakeTransport) SendMessage(_ context.Context, id domain.ConversationID, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentFrame{conversation: id, body: body})
	return nil
}

func (t *fakeTransport) SendTyping(_ context.Context, id domain.ConversationID, who string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentFrame{conversation: id, who: who})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) subscribeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribes)
}

// fakeDialer scripts a number of handshake failures before succeeding.
type fakeDialer struct {
	kind domain.TransportKind
	err  error // returned on every attempt when set

	mu         sync.Mutex
	calls      int
	transports []*fakeTransport
}

func (d *fakeDialer) Kind() domain.TransportKind { return d.kind }

func (d *fakeDialer) Dial(_ context.Context, _ string) (contract.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	tr := newFakeTransport(d.kind)
	d.transports = append(d.transports, tr)
	return tr, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) transportAt(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

// fakeManager lets the multiplexer and tracker tests force a send path.
type fakeManager struct {
	mu       sync.Mutex
	state    domain.State
	sendErr  error
	messages []sentFrame
	typings  []sentFrame
}

func (m *fakeManager) Run(context.Context) error { return nil }

func (m *fakeManager) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeManager) SendMessage(_ context.Context, id domain.ConversationID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.messages = append(m.messages, sentFrame{conversation: id, body: body})
	return nil
}

func (m *fakeManager) SendTyping(_ context.Context, id domain.ConversationID, who string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.typings = append(m.typings, sentFrame{conversation: id, who: who})
	return nil
}

func (m *fakeManager) typingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.typings)
}

// fakeHistory returns a scripted history per conversation.
type fakeHistory struct {
	mu      sync.Mutex
	byID    map[domain.ConversationID][]domain.Message
	err     error
	fetches int
}

func (h *fakeHistory) History(_ context.Context, id domain.ConversationID) ([]domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches++
	if h.err != nil {
		return nil, h.err
	}
	return h.byID[id], nil
}

// fakePoster records fallback writes.
type fakePoster struct {
	mu    sync.Mutex
	err   error
	posts []sentFrame
}

func (p *fakePoster) PostMessage(_ context.Context, id domain.ConversationID, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, sentFrame{conversation: id, body: body})
	return nil
}
