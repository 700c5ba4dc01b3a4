// Package state holds the small cross-run key-value state: the last known
// account status, the last day an expiry warning was sent, and the matcher
// configuration.
package state

import (
	"context"
	"time"

	"github.com/example/bank-sync/internal/match"
)

// AccountStatus is the last observed status of the bank connection.
// Exactly one current value persists between runs; last write wins.
type AccountStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Age returns how long ago the status was recorded.
func (s AccountStatus) Age(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}

// Store is the key-value state contract consumed by the sync runner.
type Store interface {
	// AccountStatus returns the stored status, or nil if none was recorded yet.
	AccountStatus(ctx context.Context) (*AccountStatus, error)

	// SetAccountStatus overwrites the stored status, stamping the current time.
	SetAccountStatus(ctx context.Context, status string) error

	// LastExpiryNotification returns the last day (YYYY-MM-DD) an expiry
	// warning was sent, or "" if never.
	LastExpiryNotification(ctx context.Context) (string, error)

	// SetLastExpiryNotification records the day an expiry warning was sent.
	SetLastExpiryNotification(ctx context.Context, day string) error

	// Matchers returns the configured transaction rules, empty if unset.
	Matchers(ctx context.Context) ([]match.Rule, error)

	// SetMatchers replaces the configured transaction rules.
	SetMatchers(ctx context.Context, rules []match.Rule) error
}
