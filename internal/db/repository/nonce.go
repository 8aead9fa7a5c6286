package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adamscao/breakglass/internal/clock"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/models"
)

// NonceRepository handles token nonce data access. It implements
// nonce.Store.
type NonceRepository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewNonceRepository creates a new nonce repository. A nil clock uses wall
// time.
func NewNonceRepository(db *sql.DB, c clock.Clock) *NonceRepository {
	if c == nil {
		c = clock.Real()
	}
	return &NonceRepository{db: db, clock: c}
}

// Add registers a fresh nonce
func (r *NonceRepository) Add(ctx context.Context, rec models.NonceRecord) error {
	if rec.Nonce == "" {
		return fmt.Errorf("%w: nonce is required", errs.ErrValidation)
	}

	query := `
		INSERT INTO nonces (nonce, request_id, expires_at, consumed)
		VALUES (?, ?, ?, 0)
	`
	_, err := r.db.ExecContext(ctx, query, rec.Nonce, rec.RequestID, rec.ExpiresAt.UnixNano())
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: nonce already registered", errs.ErrState)
		}
		return fmt.Errorf("failed to add nonce: %w", err)
	}
	return nil
}

// IsUsed reports true for unknown, expired or consumed nonces, and on any
// read failure
func (r *NonceRepository) IsUsed(ctx context.Context, nonce string) (bool, error) {
	rec, err := r.get(ctx, nonce)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to check nonce: %w", err)
	}
	return !rec.Fresh(r.clock.Now()), nil
}

// MarkUsed marks a nonce consumed
func (r *NonceRepository) MarkUsed(ctx context.Context, nonce string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE nonces SET consumed = 1 WHERE nonce = ?`, nonce)
	if err != nil {
		return fmt.Errorf("failed to mark nonce: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: nonce", errs.ErrNotFound)
	}
	return nil
}

// Consume marks a fresh nonce consumed. The conditional update is the only
// write, so two callers can never both succeed.
func (r *NonceRepository) Consume(ctx context.Context, nonce string) (models.NonceRecord, error) {
	now := r.clock.Now()

	query := `
		UPDATE nonces SET consumed = 1
		WHERE nonce = ? AND consumed = 0 AND expires_at > ?
	`
	result, err := r.db.ExecContext(ctx, query, nonce, now.UnixNano())
	if err != nil {
		return models.NonceRecord{}, fmt.Errorf("failed to consume nonce: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return models.NonceRecord{}, fmt.Errorf("failed to get rows affected: %w", err)
	}

	rec, err := r.get(ctx, nonce)
	switch {
	case err == sql.ErrNoRows:
		return models.NonceRecord{}, fmt.Errorf("%w: unknown nonce", errs.ErrReplay)
	case err != nil:
		return models.NonceRecord{}, fmt.Errorf("failed to read nonce: %w", err)
	case rows == 1:
		return rec, nil
	case !now.Before(rec.ExpiresAt):
		return models.NonceRecord{}, fmt.Errorf("%w: nonce expired", errs.ErrReplay)
	default:
		return models.NonceRecord{}, fmt.Errorf("%w: nonce already consumed", errs.ErrReplay)
	}
}

// CleanupExpired deletes nonces past their expiry
func (r *NonceRepository) CleanupExpired(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM nonces WHERE expires_at <= ?`, r.clock.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup nonces: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

func (r *NonceRepository) get(ctx context.Context, nonce string) (models.NonceRecord, error) {
	query := `SELECT nonce, request_id, expires_at, consumed FROM nonces WHERE nonce = ?`

	var rec models.NonceRecord
	var expiresAt int64
	err := r.db.QueryRowContext(ctx, query, nonce).Scan(&rec.Nonce, &rec.RequestID, &expiresAt, &rec.Consumed)
	if err != nil {
		return models.NonceRecord{}, err
	}
	rec.ExpiresAt = fromNanos(expiresAt)
	return rec, nil
}
