// Package presence tracks per-profile online state in redis. The chat
// webhook machine writes it on onUserUpdated events; readers treat a
// missing key as offline, so entries simply expire when the provider
// stops reporting.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "greenroom:presence:"

// DefaultTTL bounds how long an online flag outlives its last update.
const DefaultTTL = 5 * time.Minute

// Store records online state.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore builds a Store. A non-positive ttl falls back to DefaultTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func key(profileID string) string {
	return keyPrefix + profileID
}

// SetOnline records whether a profile is online. Offline deletes the key
// rather than storing a false flag, keeping the keyspace proportional to
// the online population.
func (s *Store) SetOnline(ctx context.Context, profileID string, online bool) error {
	if !online {
		if err := s.client.Del(ctx, key(profileID)).Err(); err != nil {
			return fmt.Errorf("clear presence for %s: %w", profileID, err)
		}
		return nil
	}
	if err := s.client.Set(ctx, key(profileID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("set presence for %s: %w", profileID, err)
	}
	return nil
}

// IsOnline reports whether a profile is currently online.
func (s *Store) IsOnline(ctx context.Context, profileID string) (bool, error) {
	n, err := s.client.Exists(ctx, key(profileID)).Result()
	if err != nil {
		return false, fmt.Errorf("read presence for %s: %w", profileID, err)
	}
	return n > 0, nil
}
