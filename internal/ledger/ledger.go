// Package ledger implements the append-only, hash-chained audit ledger.
//
// Each entry's hash is SHA-256 over the big-endian sequence number, the
// canonical CBOR payload and the raw bytes of the previous entry's hash
// (nothing for the first entry). Appends are serialized by a single writer
// lock, and every append starts from the head the store reports, so other
// processes writing the same store are picked up. Once verification fails
// the ledger refuses further appends.
package ledger

import (
	"context"
	"crypto/sha256"
	"errors"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/adamscao/breakglass/internal/clock"
	"github.com/adamscao/breakglass/internal/codec"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/metrics"
	"github.com/adamscao/breakglass/internal/models"
)

// maxAppendAttempts bounds retries when another writer moves the head
// between reading it and appending
const maxAppendAttempts = 16

// Ledger is the audit ledger
type Ledger struct {
	store   Store
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	lastSeq  uint64
	lastHash string
	broken   *VerifyResult
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock sets the clock used to timestamp entries
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// VerifyResult describes the outcome of a chain verification
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	// BrokenAt is the sequence number of the first offending entry.
	BrokenAt uint64 `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Open loads the chain head from store and verifies the stored chain. A
// chain that does not verify is not an error here: the ledger opens in the
// broken state, VerifyChain reports where, and Append fails with
// errs.ErrIntegrity.
func Open(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store: store,
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}

	entries, err := store.Entries(ctx, Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	if n := len(entries); n > 0 {
		l.lastSeq = entries[n-1].Sequence
		l.lastHash = entries[n-1].Hash
	}

	res := verifyEntries(entries)
	if !res.Valid {
		l.markBroken(res)
	}
	return l, nil
}

// Append adds ev to the ledger and returns the stored entry
func (l *Ledger) Append(ctx context.Context, ev Event) (*models.LedgerEntry, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil ledger event", errs.ErrValidation)
	}
	body, err := codec.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.broken != nil {
		return nil, l.brokenErrLocked()
	}

	now := l.clock.Now().UTC()
	env := envelope{
		Type:    ev.EventType(),
		Subject: ev.SubjectID(),
		TxID:    uuid.NewString(),
		Time:    now.UnixNano(),
		Event:   body,
	}
	payload, err := codec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger envelope: %w", err)
	}

	var entry models.LedgerEntry
	for attempt := 1; ; attempt++ {
		if err := l.syncHeadLocked(ctx); err != nil {
			return nil, err
		}
		seq := l.lastSeq + 1
		hash, err := computeHash(seq, payload, l.lastHash)
		if err != nil {
			return nil, err
		}
		entry = models.LedgerEntry{
			Sequence:      seq,
			TransactionID: env.TxID,
			Type:          string(env.Type),
			Subject:       env.Subject,
			Timestamp:     now,
			Payload:       payload,
			Hash:          hash,
			PrevHash:      l.lastHash,
		}
		err = l.store.Append(ctx, entry)
		if err == nil {
			break
		}
		if errors.Is(err, ErrStaleHead) && attempt < maxAppendAttempts {
			l.logger.Debug("ledger head moved, retrying append", "sequence", seq, "attempt", attempt)
			continue
		}
		return nil, fmt.Errorf("failed to append ledger entry %d: %w", seq, err)
	}

	seq, hash := entry.Sequence, entry.Hash
	l.lastSeq = seq
	l.lastHash = hash
	l.metrics.IncLedgerAppends(entry.Type)
	l.logger.Debug("ledger entry appended",
		"sequence", seq,
		"type", entry.Type,
		"subject", entry.Subject,
		"tx_id", entry.TransactionID,
	)
	return &entry, nil
}

// VerifyChain recomputes every stored hash. An invalid result also puts the
// ledger into the broken state.
func (l *Ledger) VerifyChain(ctx context.Context) (VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.store.Entries(ctx, Query{})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to load ledger: %w", err)
	}

	res := l.checkAgainstHead(entries)
	if !res.Valid {
		l.markBroken(res)
		return res, nil
	}
	if n := len(entries); n > 0 {
		l.lastSeq = entries[n-1].Sequence
		l.lastHash = entries[n-1].Hash
	}
	return res, nil
}

// checkAgainstHead verifies entries and that they still contain the head
// this ledger last saw. Entries appended by other writers are accepted once
// they chain from it.
func (l *Ledger) checkAgainstHead(entries []models.LedgerEntry) VerifyResult {
	res := verifyEntries(entries)
	if !res.Valid || l.lastSeq == 0 {
		return res
	}
	if uint64(len(entries)) < l.lastSeq {
		return VerifyResult{
			Entries:  len(entries),
			BrokenAt: uint64(len(entries)) + 1,
			Reason:   fmt.Sprintf("ledger holds %d entries, head is at %d", len(entries), l.lastSeq),
		}
	}
	if entries[l.lastSeq-1].Hash != l.lastHash {
		return VerifyResult{
			Entries:  len(entries),
			BrokenAt: l.lastSeq,
			Reason:   "entry at the known head was rewritten",
		}
	}
	return res
}

// syncHeadLocked moves the cached head to the store's head. When another
// writer has appended, the chain is verified before it is extended.
// Must be called with l.mu held.
func (l *Ledger) syncHeadLocked(ctx context.Context) error {
	seq, hash, err := l.store.Head(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger head: %w", err)
	}
	if seq == l.lastSeq && hash == l.lastHash {
		return nil
	}

	if seq > l.lastSeq {
		entries, err := l.store.Entries(ctx, Query{})
		if err != nil {
			return fmt.Errorf("failed to load ledger: %w", err)
		}
		res := l.checkAgainstHead(entries)
		if res.Valid {
			n := len(entries)
			l.lastSeq = entries[n-1].Sequence
			l.lastHash = entries[n-1].Hash
			return nil
		}
		l.markBroken(res)
	} else if seq == l.lastSeq {
		l.markBroken(VerifyResult{
			Entries:  int(seq),
			BrokenAt: seq,
			Reason:   "entry at the known head was rewritten",
		})
	} else {
		l.markBroken(VerifyResult{
			Entries:  int(seq),
			BrokenAt: seq + 1,
			Reason:   fmt.Sprintf("store head %d is behind ledger head %d", seq, l.lastSeq),
		})
	}
	return l.brokenErrLocked()
}

func (l *Ledger) brokenErrLocked() error {
	return fmt.Errorf("%w: ledger chain broken at sequence %d: %s",
		errs.ErrIntegrity, l.broken.BrokenAt, l.broken.Reason)
}

// Writable reports whether Append can currently extend the chain. It
// follows the store head first, so damage left by another writer is seen
// before the caller commits to a state change.
func (l *Ledger) Writable(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken != nil {
		return l.brokenErrLocked()
	}
	return l.syncHeadLocked(ctx)
}

// Broken returns the verification failure that disabled appends, if any
func (l *Ledger) Broken() (VerifyResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken == nil {
		return VerifyResult{}, false
	}
	return *l.broken, true
}

// Head returns the sequence and hash of the latest entry
func (l *Ledger) Head() (uint64, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq, l.lastHash
}

// Entries returns entries matching q in ascending sequence order
func (l *Ledger) Entries(ctx context.Context, q Query) ([]models.LedgerEntry, error) {
	return l.store.Entries(ctx, q)
}

// Entry returns the entry recorded under txID
func (l *Ledger) Entry(ctx context.Context, txID string) (models.LedgerEntry, error) {
	return l.store.Get(ctx, txID)
}

// Export writes every entry to path as JSON Lines. The file can be
// reopened with OpenFileStore.
func (l *Ledger) Export(ctx context.Context, path string) (int, error) {
	entries, err := l.store.Entries(ctx, Query{})
	if err != nil {
		return 0, fmt.Errorf("failed to load ledger: %w", err)
	}
	if err := writeJSONL(path, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// markBroken must be called with l.mu held, or before l is shared.
func (l *Ledger) markBroken(res VerifyResult) {
	r := res
	l.broken = &r
	l.metrics.IncLedgerVerifyFailures()
	l.logger.Error("ledger chain verification failed",
		"broken_at", res.BrokenAt,
		"reason", res.Reason,
		"entries", res.Entries,
	)
}

func verifyEntries(entries []models.LedgerEntry) VerifyResult {
	res := VerifyResult{Entries: len(entries)}
	prev := ""
	for i, e := range entries {
		fail := func(reason string) VerifyResult {
			res.BrokenAt = e.Sequence
			if res.BrokenAt == 0 {
				res.BrokenAt = uint64(i) + 1
			}
			res.Reason = reason
			return res
		}

		if e.Hash == "" && e.TransactionID == "" {
			return fail("entry is unreadable")
		}
		if e.Sequence != uint64(i)+1 {
			return fail(fmt.Sprintf("sequence %d at position %d", e.Sequence, i+1))
		}
		if e.PrevHash != prev {
			return fail("previous hash does not match preceding entry")
		}
		hash, err := computeHash(e.Sequence, e.Payload, prev)
		if err != nil {
			return fail(err.Error())
		}
		if hash != e.Hash {
			return fail("hash mismatch")
		}
		env, err := decodeEnvelope(e.Payload)
		if err != nil {
			return fail("payload does not decode")
		}
		if string(env.Type) != e.Type || env.Subject != e.Subject ||
			env.TxID != e.TransactionID || env.Time != e.Timestamp.UnixNano() {
			return fail("entry header does not match payload")
		}
		prev = e.Hash
	}
	res.Valid = true
	return res
}

func computeHash(seq uint64, payload []byte, prevHash string) (string, error) {
	prev, err := hex.DecodeString(prevHash)
	if err != nil {
		return "", fmt.Errorf("%w: previous hash is not hex", errs.ErrIntegrity)
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)

	h := sha256.New()
	h.Write(seqBuf[:])
	h.Write(payload)
	h.Write(prev)
	return hex.EncodeToString(h.Sum(nil)), nil
}
