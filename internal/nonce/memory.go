package nonce

import (
	"context"
	"fmt"
	"sync"

	"github.com/adamscao/breakglass/internal/clock"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/models"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	records map[string]models.NonceRecord
}

// NewMemoryStore creates an empty store. A nil clock uses wall time.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryStore{
		clock:   c,
		records: make(map[string]models.NonceRecord),
	}
}

// Add implements Store
func (s *MemoryStore) Add(_ context.Context, rec models.NonceRecord) error {
	if rec.Nonce == "" {
		return fmt.Errorf("%w: nonce is required", errs.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Nonce]; exists {
		return fmt.Errorf("%w: nonce already registered", errs.ErrState)
	}
	rec.Consumed = false
	s.records[rec.Nonce] = rec
	return nil
}

// IsUsed implements Store
func (s *MemoryStore) IsUsed(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[nonce]
	if !ok {
		return true, nil
	}
	return !rec.Fresh(s.clock.Now()), nil
}

// MarkUsed implements Store
func (s *MemoryStore) MarkUsed(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[nonce]
	if !ok {
		return fmt.Errorf("%w: nonce", errs.ErrNotFound)
	}
	rec.Consumed = true
	s.records[nonce] = rec
	return nil
}

// Consume implements Store
func (s *MemoryStore) Consume(_ context.Context, nonce string) (models.NonceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[nonce]
	switch {
	case !ok:
		return models.NonceRecord{}, fmt.Errorf("%w: unknown nonce", errs.ErrReplay)
	case rec.Consumed:
		return models.NonceRecord{}, fmt.Errorf("%w: nonce already consumed", errs.ErrReplay)
	case !rec.Fresh(s.clock.Now()):
		return models.NonceRecord{}, fmt.Errorf("%w: nonce expired", errs.ErrReplay)
	}
	rec.Consumed = true
	s.records[nonce] = rec
	return rec, nil
}

// CleanupExpired implements Store
func (s *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for n, rec := range s.records {
		if !now.Before(rec.ExpiresAt) {
			delete(s.records, n)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked nonces
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
