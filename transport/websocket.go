package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"campus-live/contract"
	"campus-live/domain"
	"campus-live/domain/event"
	"campus-live/errors"

	"github.com/gorilla/websocket"
)

// Ensure the websocket pieces satisfy the contracts at compile time.
var (
	_ contract.Dialer    = (*WebSocketDialer)(nil)
	_ contract.Transport = (*WebSocketTransport)(nil)
)

// WebSocketDialer performs the upgrade handshake against the hub URL.
type WebSocketDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	EventBuffer      int
	Log              *slog.Logger
}

func NewWebSocketDialer(log *slog.Logger, url string, handshakeTimeout time.Duration, eventBuffer int) *WebSocketDialer {
	return &WebSocketDialer{
		URL:              url,
		HandshakeTimeout: handshakeTimeout,
		EventBuffer:      eventBuffer,
		Log:              log,
	}
}

func (d *WebSocketDialer) Kind() domain.TransportKind { return domain.TransportWebSocket }

// Dial upgrades to a websocket connection. The bearer credential is
// carried per connection attempt, not per message.
func (d *WebSocketDialer) Dial(ctx context.Context, token string) (contract.Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s (HTTP %d): %w", d.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket handshake with %s: %w", d.URL, err)
	}

	t := &WebSocketTransport{
		log:    d.Log,
		conn:   conn,
		events: make(chan event.InboundEvent, d.EventBuffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// WebSocketTransport is one live websocket session.
type WebSocketTransport struct {
	log     *slog.Logger
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan event.InboundEvent
	errs    chan error
	done    chan struct{}

	closeMu sync.Mutex
	closed  bool
}

func (t *WebSocketTransport) Kind() domain.TransportKind { return domain.TransportWebSocket }

func (t *WebSocketTransport) Events() <-chan event.InboundEvent { return t.events }

func (t *WebSocketTransport) Errors() <-chan error { return t.errs }

func (t *WebSocketTransport) Subscribe(ctx context.Context, conversations []domain.ConversationID) error {
	return t.write(ctx, subscribeFrame(conversations))
}

func (t *WebSocketTransport) SendMessage(ctx context.Context, id domain.ConversationID, body string) error {
	return t.write(ctx, messageFrame(id, body))
}

func (t *WebSocketTransport) SendTyping(ctx context.Context, id domain.ConversationID, who string) error {
	return t.write(ctx, typingFrame(id, who))
}

func (t *WebSocketTransport) write(ctx context.Context, env Envelope) error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return errors.ErrTransportClosed
	}
	t.closeMu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteJSON(env)
}

// readLoop pumps inbound frames until the connection drops. The events
// channel is closed on exit so consumers can drain and stop.
func (t *WebSocketTransport) readLoop() {
	defer close(t.events)
	for {
		var env Envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			t.closeMu.Lock()
			closed := t.closed
			t.closeMu.Unlock()
			if !closed {
				t.errs <- err
			}
			return
		}

		evt, err := env.ToEvent()
		if err != nil {
			t.log.Debug("Dropping unknown inbound frame", "channel", env.Channel)
			continue
		}
		// The consumer may have stopped draining before Close; the send
		// must not pin this goroutine past the session.
		select {
		case t.events <- evt:
		case <-t.done:
			return
		}
	}
}

// Close tears the session down. Safe to call more than once.
func (t *WebSocketTransport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.closeMu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}
