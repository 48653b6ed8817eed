package engine

import (
	"time"

	"tv-executor/pkg/exchanges/paper"
)

// SystemStatus is the process description served by /health and logged at
// startup.
type SystemStatus struct {
	Version       string    `json:"version"`
	Environment   string    `json:"environment"`
	DryRun        bool      `json:"dry_run"`
	Testnet       bool      `json:"testnet"`
	Exchanges     []string  `json:"exchanges"`
	Notifications []string  `json:"notifications"`
	StartedAt     time.Time `json:"started_at"`

	Paper map[string]paper.Book `json:"paper,omitempty"` // dry-run accounts by exchange/market
}

// Uptime is the time since StartedAt.
func (s SystemStatus) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
