// Package checkpoint stores per-diagnosis polling counters.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"catcare.com/client/utils"
)

// ErrClaimed means another poller already owns the diagnosis.
var ErrClaimed = errors.New("diagnosis is already being polled")

// Namespace scopes keys to one backend, so two environments sharing a Redis
// do not see each other's counters.
func Namespace(baseURL string) string {
	return fmt.Sprintf("%016x", utils.HashString(strings.TrimRight(baseURL, "/")))
}

func Key(namespace, diagnosisID string) string {
	return fmt.Sprintf("catcare:poll:%s:%s", namespace, diagnosisID)
}

// MemoryStore is the in-process variant, used when no Redis is configured.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]int
	claimed  map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]int), claimed: make(map[string]bool)}
}

func (store *MemoryStore) Claim(_ context.Context, diagnosisID string) (func() error, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.claimed[diagnosisID] {
		return nil, ErrClaimed
	}
	store.claimed[diagnosisID] = true
	var once sync.Once
	return func() error {
		once.Do(func() {
			store.mu.Lock()
			delete(store.claimed, diagnosisID)
			store.mu.Unlock()
		})
		return nil
	}, nil
}

func (store *MemoryStore) Load(_ context.Context, diagnosisID string) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.attempts[diagnosisID], nil
}

func (store *MemoryStore) Save(_ context.Context, diagnosisID string, attempts int) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.attempts[diagnosisID] = attempts
	return nil
}

func (store *MemoryStore) Clear(_ context.Context, diagnosisID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.attempts, diagnosisID)
	return nil
}
