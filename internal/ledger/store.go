package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/models"
)

// Query selects ledger entries. Zero values match everything.
type Query struct {
	Type    EventType
	Subject string
	// Limit keeps only the most recent N matching entries.
	Limit int
}

// Matches reports whether e is selected by the type and subject filters
func (q Query) Matches(e models.LedgerEntry) bool {
	if q.Type != "" && e.Type != string(q.Type) {
		return false
	}
	if q.Subject != "" && e.Subject != q.Subject {
		return false
	}
	return true
}

// ErrStaleHead is wrapped, together with errs.ErrIntegrity, by stores that
// reject an entry whose sequence does not follow their head. The ledger
// rereads the head and retries.
var ErrStaleHead = errors.New("ledger head moved")

// Store persists ledger entries. Within a process the ledger serializes
// appends. A store shared between processes must reject, with ErrStaleHead,
// an entry that does not directly follow its current head.
type Store interface {
	Append(ctx context.Context, entry models.LedgerEntry) error
	// Head returns the sequence and hash of the latest entry, or zero
	// values when the store is empty.
	Head(ctx context.Context) (uint64, string, error)
	// Entries returns matching entries in ascending sequence order.
	Entries(ctx context.Context, q Query) ([]models.LedgerEntry, error)
	// Get returns the entry with the given transaction id.
	Get(ctx context.Context, txID string) (models.LedgerEntry, error)
}

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.LedgerEntry
	byTx    map[string]int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTx: make(map[string]int)}
}

// Append implements Store
func (s *MemoryStore) Append(_ context.Context, entry models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(entry)
}

func (s *MemoryStore) appendLocked(entry models.LedgerEntry) error {
	if err := s.checkNext(entry); err != nil {
		return err
	}
	s.byTx[entry.TransactionID] = len(s.entries)
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

func (s *MemoryStore) checkNext(entry models.LedgerEntry) error {
	if want := uint64(len(s.entries)) + 1; entry.Sequence != want {
		return fmt.Errorf("%w: %w: append sequence %d, want %d", errs.ErrIntegrity, ErrStaleHead, entry.Sequence, want)
	}
	if _, dup := s.byTx[entry.TransactionID]; dup {
		return fmt.Errorf("%w: duplicate transaction id %s", errs.ErrIntegrity, entry.TransactionID)
	}
	return nil
}

// Head implements Store
func (s *MemoryStore) Head(_ context.Context) (uint64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return 0, "", nil
	}
	last := s.entries[len(s.entries)-1]
	return last.Sequence, last.Hash, nil
}

// Entries implements Store
func (s *MemoryStore) Entries(_ context.Context, q Query) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range s.entries {
		if q.Matches(e) {
			out = append(out, cloneEntry(e))
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, txID string) (models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byTx[txID]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("%w: ledger transaction %s", errs.ErrNotFound, txID)
	}
	return cloneEntry(s.entries[i]), nil
}

func cloneEntry(e models.LedgerEntry) models.LedgerEntry {
	e.Payload = append([]byte(nil), e.Payload...)
	return e
}
