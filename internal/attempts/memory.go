package attempts

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is an in-process attempt store. It backs tests and local
// single-node runs where Redis is not available.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]CheckoutAttempt
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]CheckoutAttempt)}
}

func (s *MemoryStore) Put(_ context.Context, attempt *CheckoutAttempt) error {
	if attempt == nil {
		return errors.New("attempt is required")
	}
	if attempt.AttemptID == "" {
		return errors.New("attempt id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.AttemptID] = *attempt
	return nil
}

func (s *MemoryStore) Get(_ context.Context, attemptID string) (*CheckoutAttempt, error) {
	if attemptID == "" {
		return nil, errors.New("attempt id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := attempt
	return &copied, nil
}

func (s *MemoryStore) Delete(_ context.Context, attemptID string) error {
	if attemptID == "" {
		return errors.New("attempt id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, attemptID)
	return nil
}

// Len reports the number of stored attempts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attempts)
}
