package internal

import (
	"fmt"
	"time"
)

// Config groups every tunable of the messaging core. URLs are required;
// behavioral knobs default to the values the hub was tuned against.
type Config struct {
	HubURL      string `env:"HUB_URL,required=true"`
	FallbackURL string `env:"FALLBACK_URL,required=true"`
	HistoryURL  string `env:"HISTORY_URL,required=true"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`

	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT,default=10s"`
	SendTimeout      time.Duration `env:"SEND_TIMEOUT,default=5s"`
	HistoryTimeout   time.Duration `env:"HISTORY_TIMEOUT,default=10s"`

	// Reconnect backoff: first retry immediate, then exponential from
	// BackoffInitial up to BackoffMax, repeating at the cap.
	BackoffInitial time.Duration `env:"BACKOFF_INITIAL,default=2s"`
	BackoffMax     time.Duration `env:"BACKOFF_MAX,default=30s"`

	TypingTTL      time.Duration `env:"TYPING_TTL,default=3s"`
	TypingDebounce time.Duration `env:"TYPING_DEBOUNCE,default=300ms"`

	NotificationLimit int `env:"NOTIFICATION_LIMIT,default=50"`
	EventBufferSize   int `env:"EVENT_BUFFER_SIZE,default=256"`
	MaxMessageLength  int `env:"MAX_MESSAGE_LENGTH,default=4000"`
}

// Validate rejects values the runtime cannot work with.
func (c Config) Validate() error {
	if c.NotificationLimit <= 0 {
		return fmt.Errorf("NOTIFICATION_LIMIT must be positive, got %d", c.NotificationLimit)
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("EVENT_BUFFER_SIZE must be positive, got %d", c.EventBufferSize)
	}
	if c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("BACKOFF_MAX (%s) must not be below BACKOFF_INITIAL (%s)",
			c.BackoffMax, c.BackoffInitial)
	}
	return nil
}
