package state

import (
	"context"
	"sync"
	"time"

	"github.com/example/bank-sync/internal/match"
)

// MemoryStore is an in-process state store. State does not survive a
// restart; it exists for tests and for running without Redis.
type MemoryStore struct {
	mu        sync.Mutex
	status    *AccountStatus
	expiryDay string
	rules     []match.Rule
	hasRules  bool
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AccountStatus(ctx context.Context) (*AccountStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == nil {
		return nil, nil
	}
	cp := *s.status
	return &cp, nil
}

func (s *MemoryStore) SetAccountStatus(ctx context.Context, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = &AccountStatus{Status: status, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *MemoryStore) LastExpiryNotification(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiryDay, nil
}

func (s *MemoryStore) SetLastExpiryNotification(ctx context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiryDay = day
	return nil
}

func (s *MemoryStore) Matchers(ctx context.Context) ([]match.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasRules {
		return nil, nil
	}
	out := make([]match.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *MemoryStore) SetMatchers(ctx context.Context, rules []match.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = make([]match.Rule, len(rules))
	copy(s.rules, rules)
	s.hasRules = true
	return nil
}
