package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"campus-live/contract"
	"campus-live/domain"
	"campus-live/domain/event"
	"campus-live/errors"
)

var (
	_ contract.Dialer    = (*PollingDialer)(nil)
	_ contract.Transport = (*PollingTransport)(nil)
)

// PollingDialer opens the fallback transport: a server-sent-events stream
// for inbound traffic and plain HTTP POSTs for outbound. No upgrade
// negotiation is involved, trading latency for compatibility.
type PollingDialer struct {
	BaseURL          string
	Client           *http.Client
	HandshakeTimeout time.Duration
	EventBuffer      int
	Log              *slog.Logger
}

func NewPollingDialer(log *slog.Logger, baseURL string, handshakeTimeout time.Duration, eventBuffer int) *PollingDialer {
	return &PollingDialer{
		BaseURL:          strings.TrimRight(baseURL, "/"),
		Client:           &http.Client{},
		HandshakeTimeout: handshakeTimeout,
		EventBuffer:      eventBuffer,
		Log:              log,
	}
}

func (d *PollingDialer) Kind() domain.TransportKind { return domain.TransportPolling }

// Dial opens the event stream. The stream request runs on its own
// context so it outlives the handshake deadline; Close cancels it.
func (d *PollingDialer) Dial(ctx context.Context, token string) (contract.Transport, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, d.BaseURL+"/stream", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	type dialResult struct {
		resp *http.Response
		err  error
	}
	resultChan := make(chan dialResult, 1)
	go func() {
		resp, err := d.Client.Do(req)
		resultChan <- dialResult{resp: resp, err: err}
	}()

	handshakeCtx, handshakeCancel := context.WithTimeout(ctx, d.HandshakeTimeout)
	defer handshakeCancel()

	var resp *http.Response
	select {
	case <-handshakeCtx.Done():
		cancel()
		return nil, fmt.Errorf("polling handshake with %s: %w", d.BaseURL, handshakeCtx.Err())
	case res := <-resultChan:
		if res.err != nil {
			cancel()
			return nil, fmt.Errorf("polling handshake with %s: %w", d.BaseURL, res.err)
		}
		resp = res.resp
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("polling handshake with %s: HTTP %d", d.BaseURL, resp.StatusCode)
	}

	t := &PollingTransport{
		log:     d.Log,
		client:  d.Client,
		baseURL: d.BaseURL,
		token:   token,
		body:    resp.Body,
		cancel:  cancel,
		events:  make(chan event.InboundEvent, d.EventBuffer),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// PollingTransport is one live fallback session.
type PollingTransport struct {
	log     *slog.Logger
	client  *http.Client
	baseURL string
	token   string
	body    io.ReadCloser
	cancel  context.CancelFunc
	events  chan event.InboundEvent
	errs    chan error
	done    chan struct{}

	closeOnce sync.Once
}

func (t *PollingTransport) Kind() domain.TransportKind { return domain.TransportPolling }

func (t *PollingTransport) Events() <-chan event.InboundEvent { return t.events }

func (t *PollingTransport) Errors() <-chan error { return t.errs }

func (t *PollingTransport) Subscribe(ctx context.Context, conversations []domain.ConversationID) error {
	return t.post(ctx, "/subscribe", subscribeFrame(conversations))
}

func (t *PollingTransport) SendMessage(ctx context.Context, id domain.ConversationID, body string) error {
	return t.post(ctx, "/send", messageFrame(id, body))
}

func (t *PollingTransport) SendTyping(ctx context.Context, id domain.ConversationID, who string) error {
	return t.post(ctx, "/typing", typingFrame(id, who))
}

func (t *PollingTransport) post(ctx context.Context, path string, env Envelope) error {
	select {
	case <-t.done:
		return errors.ErrTransportClosed
	default:
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("hub rejected %s: HTTP %d", path, resp.StatusCode)
	}
	return nil
}

// readLoop parses the SSE stream. Comment lines (": keepalive") are
// ignored; each "data:" line carries one JSON envelope.
func (t *PollingTransport) readLoop() {
	defer close(t.events)
	defer t.body.Close()

	scanner := bufio.NewScanner(t.body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &env); err != nil {
			t.log.Debug("Dropping malformed stream line", "err", err)
			continue
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

	select {
	case <-t.done:
		// Closed locally, not a drop.
	default:
		err := scanner.Err()
		if err == nil {
			err = errors.ErrTransportClosed
		}
		t.errs <- err
	}
}

func (t *PollingTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.cancel()
	})
	return nil
}
