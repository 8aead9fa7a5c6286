package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/models"
)

// FileStore is an append-only JSON Lines file, one entry per line. Entries
// are indexed in memory when the file is opened and every append is synced
// to disk before it returns. The file is locked exclusively while open, so
// only one process at a time can use it.
type FileStore struct {
	mem  *MemoryStore
	file *os.File
	size int64
}

// OpenFileStore opens or creates the ledger file at path. Opening fails
// with errs.ErrState while another process holds the file. A line that does
// not parse is kept as an unreadable entry, so VerifyChain reports the
// ledger broken at that position.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: ledger file %s is in use by another process: %w", errs.ErrState, path, err)
	}

	entries, err := readJSONL(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat ledger file: %w", err)
	}

	// Loaded as stored, without the append-time sequence checks, so a
	// damaged file can still be opened and verified.
	mem := NewMemoryStore()
	for i, e := range entries {
		mem.entries = append(mem.entries, e)
		if e.TransactionID != "" {
			mem.byTx[e.TransactionID] = i
		}
	}
	return &FileStore{mem: mem, file: f, size: info.Size()}, nil
}

// Append implements Store
func (s *FileStore) Append(_ context.Context, entry models.LedgerEntry) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	line = append(line, '\n')

	// Validate before writing so a rejected entry never reaches disk.
	if err := s.mem.checkNext(entry); err != nil {
		return err
	}
	if _, err := s.file.Write(line); err != nil {
		return s.discardTail(fmt.Errorf("failed to write ledger entry: %w", err))
	}
	if err := s.file.Sync(); err != nil {
		return s.discardTail(fmt.Errorf("failed to sync ledger file: %w", err))
	}
	s.size += int64(len(line))
	return s.mem.appendLocked(entry)
}

// discardTail cuts the file back to its last complete entry after a failed
// write, so no partial line stays in front of later appends.
func (s *FileStore) discardTail(cause error) error {
	if err := s.file.Truncate(s.size); err != nil {
		return fmt.Errorf("%w (failed to truncate ledger file: %w)", cause, err)
	}
	return cause
}

// Head implements Store
func (s *FileStore) Head(ctx context.Context) (uint64, string, error) {
	return s.mem.Head(ctx)
}

// Entries implements Store
func (s *FileStore) Entries(ctx context.Context, q Query) ([]models.LedgerEntry, error) {
	return s.mem.Entries(ctx, q)
}

// Get implements Store
func (s *FileStore) Get(ctx context.Context, txID string) (models.LedgerEntry, error) {
	return s.mem.Get(ctx, txID)
}

// Close releases the lock and closes the underlying file
func (s *FileStore) Close() error {
	return s.file.Close()
}

func readJSONL(path string) ([]models.LedgerEntry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()

	var entries []models.LedgerEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e models.LedgerEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			// Sequence and hash stay empty; verification flags the position.
			e = models.LedgerEntry{Payload: append([]byte(nil), scanner.Bytes()...)}
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}
	return entries, nil
}

// writeJSONL writes entries to path atomically
func writeJSONL(path string, entries []models.LedgerEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-export-*")
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode ledger entry %d: %w", e.Sequence, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write export file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to set export permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move export file into place: %w", err)
	}
	return nil
}
