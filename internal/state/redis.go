package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/bank-sync/internal/match"
)

const (
	keyAccountStatus  = "bank-sync:account-status"
	keyExpiryNotified = "bank-sync:expiry-notified"
	keyMatchers       = "bank-sync:matchers"
)

// RedisStore keeps cross-run state in Redis so concurrent daemons observe
// the same status history and expiry marker.
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore creates a Redis-backed state store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) AccountStatus(ctx context.Context) (*AccountStatus, error) {
	raw, err := s.Client.Get(ctx, keyAccountStatus).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account status: %w", err)
	}

	var status AccountStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("corrupt account status entry: %w", err)
	}
	return &status, nil
}

func (s *RedisStore) SetAccountStatus(ctx context.Context, status string) error {
	raw, err := json.Marshal(AccountStatus{Status: status, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode account status: %w", err)
	}

	if err := s.Client.Set(ctx, keyAccountStatus, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write account status: %w", err)
	}
	return nil
}

func (s *RedisStore) LastExpiryNotification(ctx context.Context) (string, error) {
	day, err := s.Client.Get(ctx, keyExpiryNotified).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read expiry marker: %w", err)
	}
	return day, nil
}

func (s *RedisStore) SetLastExpiryNotification(ctx context.Context, day string) error {
	if err := s.Client.Set(ctx, keyExpiryNotified, day, 0).Err(); err != nil {
		return fmt.Errorf("failed to write expiry marker: %w", err)
	}
	return nil
}

func (s *RedisStore) Matchers(ctx context.Context) ([]match.Rule, error) {
	raw, err := s.Client.Get(ctx, keyMatchers).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read matchers: %w", err)
	}

	var rules []match.Rule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("corrupt matcher configuration: %w", err)
	}
	return rules, nil
}

func (s *RedisStore) SetMatchers(ctx context.Context, rules []match.Rule) error {
	raw, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode matchers: %w", err)
	}

	if err := s.Client.Set(ctx, keyMatchers, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write matchers: %w", err)
	}
	return nil
}
