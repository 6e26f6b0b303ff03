package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned when a callback presents a state value that
// is unknown, expired, or already consumed.
var ErrStateNotFound = errors.New("provider: state not found or expired")

// PendingAuthorization is the server-side record a random state value maps
// to between authorize_url and the provider's callback.
type PendingAuthorization struct {
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
}

// StateStore persists PendingAuthorization records keyed by a single-use
// state token with a short TTL. Implementations MUST delete (or mark
// consumed) a record the first time it is read, so replaying a callback
// with the same state fails.
type StateStore interface {
	Put(ctx context.Context, state string, pending PendingAuthorization, ttl time.Duration) error
	TakeOnce(ctx context.Context, state string) (PendingAuthorization, error)
}

// NewState generates a cryptographically random, URL-safe state token.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("provider: generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// RedisStateStore is the production StateStore, built on the go-redis
// client library that pkg/auth's rate limiter also uses.
type RedisStateStore struct {
	rdb *redis.Client
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func (s *RedisStateStore) key(state string) string {
	return "provider:oauth_state:" + state
}

func (s *RedisStateStore) Put(ctx context.Context, state string, pending PendingAuthorization, ttl time.Duration) error {
	b, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("provider: marshal pending authorization: %w", err)
	}
	return s.rdb.Set(ctx, s.key(state), b, ttl).Err()
}

// TakeOnce atomically fetches and deletes the record, so the state value
// cannot be replayed.
func (s *RedisStateStore) TakeOnce(ctx context.Context, state string) (PendingAuthorization, error) {
	key := s.key(state)
	val, err := s.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return PendingAuthorization{}, ErrStateNotFound
	}
	if err != nil {
		return PendingAuthorization{}, fmt.Errorf("provider: state lookup: %w", err)
	}
	var pending PendingAuthorization
	if err := json.Unmarshal([]byte(val), &pending); err != nil {
		return PendingAuthorization{}, fmt.Errorf("provider: unmarshal pending authorization: %w", err)
	}
	return pending, nil
}

// InMemoryStateStore backs tests and single-process deployments without
// Redis configured.
type InMemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]inMemoryEntry
}

type inMemoryEntry struct {
	pending PendingAuthorization
	expiry  time.Time
}

func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{entries: make(map[string]inMemoryEntry)}
}

func (s *InMemoryStateStore) Put(_ context.Context, state string, pending PendingAuthorization, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state] = inMemoryEntry{pending: pending, expiry: time.Now().Add(ttl)}
	return nil
}

func (s *InMemoryStateStore) TakeOnce(_ context.Context, state string) (PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[state]
	delete(s.entries, state)
	if !ok || time.Now().After(entry.expiry) {
		return PendingAuthorization{}, ErrStateNotFound
	}
	return entry.pending, nil
}
