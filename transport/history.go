package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campus-live/contract"
	"campus-live/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	_ contract.HistoryFetcher = (*HistoryClient)(nil)
	_ contract.MessagePoster  = (*HistoryClient)(nil)
)

// wireMessage is the REST shape of a stored message.
type wireMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sentAt"`
}

// HistoryClient fetches past messages over plain request/response and
// doubles as the point-in-time write path used when the live connection
// is down. Both calls are independent of the live channel.
type HistoryClient struct {
	baseURL string
	client  *http.Client
	creds   contract.CredentialSupplier
	timeout time.Duration
}

func NewHistoryClient(baseURL string, creds contract.CredentialSupplier, timeout time.Duration) *HistoryClient {
	return &HistoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		creds:   creds,
		timeout: timeout,
	}
}

// History returns the stored messages of one conversation, oldest first.
func (h *HistoryClient) History(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.messagesURL(id), nil)
	if err != nil {
		return nil, err
	}
	h.authorize(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history fetch for %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history fetch for %s: HTTP %d", id, resp.StatusCode)
	}

	var wire []wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("history decode for %s: %w", id, err)
	}

	return lo.Map(wire, func(item wireMessage, _ int) domain.Message {
		msgID, _ := uuid.Parse(item.ID)
		return domain.Message{
			ID:           msgID,
			Conversation: id,
			SenderID:     item.SenderID,
			SenderName:   item.SenderName,
			Body:         item.Body,
			SentAt:       item.SentAt,
		}
	}), nil
}

// PostMessage writes one message through the REST surface. Used only as
// the fallback send path; the live path goes through the manager.
func (h *HistoryClient) PostMessage(ctx context.Context, id domain.ConversationID, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.messagesURL(id), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	h.authorize(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("message post to %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("message post to %s: HTTP %d", id, resp.StatusCode)
	}
	return nil
}

func (h *HistoryClient) messagesURL(id domain.ConversationID) string {
	return h.baseURL + "/conversations/" + url.PathEscape(string(id)) + "/messages"
}

func (h *HistoryClient) authorize(req *http.Request) {
	if token := h.creds.CurrentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
