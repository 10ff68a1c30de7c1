package scheduler

import (
	"context"
	"sync"
	"time"
)

// AdmissionStore holds the shared admission state: the accounts currently
// syncing and each user's recent sync start times. MemoryStore serves a single
// process; a multi-instance deployment needs an implementation backed by a
// shared store.
type AdmissionStore interface {
	// AddActive marks accountID as syncing for userID. It reports false,
	// leaving the store untouched, when the account is already active.
	AddActive(ctx context.Context, userID, accountID string) (bool, error)
	// RemoveActive clears accountID. Unknown accounts are a no-op.
	RemoveActive(ctx context.Context, accountID string) error
	IsActive(ctx context.Context, accountID string) (bool, error)
	// ActiveForUser counts the accounts of userID that are syncing.
	ActiveForUser(ctx context.Context, userID string) (int, error)
	AppendStart(ctx context.Context, userID string, at time.Time) error
	// Starts prunes entries before since and returns the rest, oldest first.
	Starts(ctx context.Context, userID string, since time.Time) ([]time.Time, error)
}

// MemoryStore is a mutex-guarded in-process AdmissionStore.
type MemoryStore struct {
	mu     sync.Mutex
	active map[string]string // account -> user
	starts map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		active: make(map[string]string),
		starts: make(map[string][]time.Time),
	}
}

func (s *MemoryStore) AddActive(_ context.Context, userID, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[accountID]; ok {
		return false, nil
	}
	s.active[accountID] = userID
	return true, nil
}

func (s *MemoryStore) RemoveActive(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, accountID)
	return nil
}

func (s *MemoryStore) IsActive(_ context.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[accountID]
	return ok, nil
}

func (s *MemoryStore) ActiveForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.active {
		if u == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendStart(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts[userID] = append(s.starts[userID], at)
	return nil
}

func (s *MemoryStore) Starts(_ context.Context, userID string, since time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.starts[userID][:0]
	for _, at := range s.starts[userID] {
		if at.After(since) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(s.starts, userID)
		return nil, nil
	}
	s.starts[userID] = kept
	out := make([]time.Time, len(kept))
	copy(out, kept)
	return out, nil
}
