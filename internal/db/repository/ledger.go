package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/ledger"
	"github.com/adamscao/breakglass/internal/models"
)

// LedgerRepository stores ledger entries in SQLite. It implements
// ledger.Store.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `sequence, transaction_id, type, subject, timestamp, payload, hash, previous_hash`

// Append inserts the next entry. The sequence must follow the stored head;
// the transaction holds the write lock, so a writer in another process
// cannot slip in between the check and the insert.
func (r *LedgerRepository) Append(ctx context.Context, entry models.LedgerEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var head uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM ledger_entries`).Scan(&head); err != nil {
		return fmt.Errorf("failed to read ledger head: %w", err)
	}
	if entry.Sequence != head+1 {
		return fmt.Errorf("%w: %w: append sequence %d, want %d", errs.ErrIntegrity, ledger.ErrStaleHead, entry.Sequence, head+1)
	}

	query := `INSERT INTO ledger_entries (` + ledgerColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		entry.Sequence,
		entry.TransactionID,
		entry.Type,
		entry.Subject,
		entry.Timestamp.UnixNano(),
		entry.Payload,
		entry.Hash,
		entry.PrevHash,
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: duplicate transaction id %s", errs.ErrIntegrity, entry.TransactionID)
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger entry: %w", err)
	}
	return nil
}

// Head returns the latest sequence and hash
func (r *LedgerRepository) Head(ctx context.Context) (uint64, string, error) {
	query := `SELECT sequence, hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1`

	var seq uint64
	var hash string
	err := r.db.QueryRowContext(ctx, query).Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to read ledger head: %w", err)
	}
	return seq, hash, nil
}

// Entries returns matching entries in ascending sequence order. With a
// limit only the most recent entries are kept.
func (r *LedgerRepository) Entries(ctx context.Context, q ledger.Query) ([]models.LedgerEntry, error) {
	var conds []string
	var args []any
	if q.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(q.Type))
	}
	if q.Subject != "" {
		conds = append(conds, "subject = ?")
		args = append(args, q.Subject)
	}

	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	if q.Limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY sequence DESC LIMIT ?) ORDER BY sequence ASC`
		args = append(args, q.Limit)
	} else {
		query += ` ORDER BY sequence ASC`
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get retrieves an entry by transaction id
func (r *LedgerRepository) Get(ctx context.Context, txID string) (models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE transaction_id = ?`

	e, err := scanLedgerEntry(r.db.QueryRowContext(ctx, query, txID))
	if err == sql.ErrNoRows {
		return models.LedgerEntry{}, fmt.Errorf("%w: ledger transaction %s", errs.ErrNotFound, txID)
	}
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, nil
}

func scanLedgerEntry(row rowScanner) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	var ts int64
	err := row.Scan(
		&e.Sequence,
		&e.TransactionID,
		&e.Type,
		&e.Subject,
		&ts,
		&e.Payload,
		&e.Hash,
		&e.PrevHash,
	)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	e.Timestamp = fromNanos(ts)
	return e, nil
}
