package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

// Config points the smoke test at a real hub. Leaving HUB_WS_URL empty
// skips the suite, so it never runs against nothing in CI.
type Config struct {
	HubWSURL    string `envconfig:"HUB_WS_URL"`
	FallbackURL string `envconfig:"HUB_FALLBACK_URL"`
	HistoryURL  string `envconfig:"HUB_HISTORY_URL"`
	Token       string `envconfig:"HUB_TOKEN"`
	// E2E_CONVERSATION selects the conversation exercised by the smoke test
	Conversation string `envconfig:"E2E_CONVERSATION" default:"demo-course"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
