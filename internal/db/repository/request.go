package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adamscao/breakglass/internal/codec"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/models"
)

// RequestRepository handles credential request, approval and denial data
// access. It implements credential.Store.
type RequestRepository struct {
	db *sql.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, requester_id, status, reason, vault_id, path, context, emergency, created_at, expires_at, ledger_tx_id`

// CreateRequest inserts a new credential request
func (r *RequestRepository) CreateRequest(ctx context.Context, req *models.CredentialRequest) error {
	var reqContext sql.NullString
	if len(req.Context) > 0 {
		b, err := codec.CanonicalJSON(req.Context)
		if err != nil {
			return fmt.Errorf("failed to encode request context: %w", err)
		}
		reqContext = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO credential_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.RequesterID,
		string(req.Status),
		req.Reason,
		req.VaultID,
		req.Path,
		reqContext,
		req.Emergency,
		req.CreatedAt.UnixNano(),
		req.ExpiresAt.UnixNano(),
		nullString(req.LedgerTxID),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: request %s already exists", errs.ErrState, req.ID)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID
func (r *RequestRepository) GetRequest(ctx context.Context, id string) (*models.CredentialRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM credential_requests WHERE id = ?`

	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: request %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// ListRequests returns requests newest first
func (r *RequestRepository) ListRequests(ctx context.Context, filter models.RequestFilter) ([]*models.CredentialRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM credential_requests`
	if filter.EmergencyOnly {
		query += ` WHERE emergency = 1`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	return r.queryRequests(ctx, query)
}

// ListExpiredPending returns pending requests whose expiry is at or before now
func (r *RequestRepository) ListExpiredPending(ctx context.Context, now time.Time) ([]*models.CredentialRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM credential_requests
		WHERE status = 'pending' AND expires_at <= ?
		ORDER BY created_at ASC, id ASC
	`
	return r.queryRequests(ctx, query, now.UnixNano())
}

func (r *RequestRepository) queryRequests(ctx context.Context, query string, args ...any) ([]*models.CredentialRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.CredentialRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// ApproveRequest records the approval and moves the request to approved in
// a single transaction
func (r *RequestRepository) ApproveRequest(ctx context.Context, approval *models.CredentialApproval, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkPending(ctx, tx, approval.RequestID, now); err != nil {
		return err
	}

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credential_approvals WHERE request_id = ?`,
		approval.RequestID,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to check approval: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: request %s already approved", errs.ErrState, approval.RequestID)
	}

	query := `
		INSERT INTO credential_approvals
			(request_id, approver_id, signature, approved_at, ttl_seconds, nonce, token_expires_at, ledger_tx_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		approval.RequestID,
		approval.ApproverID,
		approval.Signature,
		approval.ApprovedAt.UnixNano(),
		int64(approval.TTL/time.Second),
		approval.Nonce,
		approval.TokenExpiresAt.UnixNano(),
		nullString(approval.LedgerTxID),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: request %s already approved", errs.ErrState, approval.RequestID)
		}
		return fmt.Errorf("failed to create approval: %w", err)
	}

	if err := casStatus(ctx, tx, approval.RequestID, models.StatusPending, models.StatusApproved); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit approval: %w", err)
	}
	return nil
}

// GetApproval retrieves the approval of a request
func (r *RequestRepository) GetApproval(ctx context.Context, requestID string) (*models.CredentialApproval, error) {
	query := `
		SELECT request_id, approver_id, signature, approved_at, ttl_seconds, nonce, token_expires_at, ledger_tx_id
		FROM credential_approvals
		WHERE request_id = ?
	`

	approval := &models.CredentialApproval{}
	var approvedAt, tokenExpiresAt, ttlSeconds int64
	var ledgerTxID sql.NullString

	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&approval.RequestID,
		&approval.ApproverID,
		&approval.Signature,
		&approvedAt,
		&ttlSeconds,
		&approval.Nonce,
		&tokenExpiresAt,
		&ledgerTxID,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: approval for %s", errs.ErrNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}

	approval.ApprovedAt = fromNanos(approvedAt)
	approval.TTL = time.Duration(ttlSeconds) * time.Second
	approval.TokenExpiresAt = fromNanos(tokenExpiresAt)
	approval.LedgerTxID = ledgerTxID.String
	return approval, nil
}

// SetApprovalLedgerTxID links an approval to its ledger entry
func (r *RequestRepository) SetApprovalLedgerTxID(ctx context.Context, requestID, txID string) error {
	query := `UPDATE credential_approvals SET ledger_tx_id = ? WHERE request_id = ?`

	result, err := r.db.ExecContext(ctx, query, txID, requestID)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: approval for %s", errs.ErrNotFound, requestID)
	}
	return nil
}

// DenyRequest records the denial and moves the request to denied
func (r *RequestRepository) DenyRequest(ctx context.Context, denial *models.CredentialDenial, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkPending(ctx, tx, denial.RequestID, now); err != nil {
		return err
	}

	query := `
		INSERT INTO credential_denials (request_id, approver_id, reason, denied_at)
		VALUES (?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		denial.RequestID,
		denial.ApproverID,
		nullString(denial.Reason),
		denial.DeniedAt.UnixNano(),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: request %s already denied", errs.ErrState, denial.RequestID)
		}
		return fmt.Errorf("failed to create denial: %w", err)
	}

	if err := casStatus(ctx, tx, denial.RequestID, models.StatusPending, models.StatusDenied); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit denial: %w", err)
	}
	return nil
}

// RevertApproval deletes the approval and moves the request back to pending
func (r *RequestRepository) RevertApproval(ctx context.Context, requestID string) error {
	return r.revert(ctx, requestID, `DELETE FROM credential_approvals WHERE request_id = ?`, models.StatusApproved)
}

// RevertDenial deletes the denial and moves the request back to pending
func (r *RequestRepository) RevertDenial(ctx context.Context, requestID string) error {
	return r.revert(ctx, requestID, `DELETE FROM credential_denials WHERE request_id = ?`, models.StatusDenied)
}

func (r *RequestRepository) revert(ctx context.Context, requestID, deleteQuery string, from models.RequestStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := casStatus(ctx, tx, requestID, from, models.StatusPending); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, deleteQuery, requestID); err != nil {
		return fmt.Errorf("failed to delete %s record: %w", from, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revert: %w", err)
	}
	return nil
}

// UpdateStatus moves a request from one status to another
func (r *RequestRepository) UpdateStatus(ctx context.Context, id string, from, to models.RequestStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := casStatus(ctx, tx, id, from, to); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}
	return nil
}

// checkPending fails with errs.ErrState unless the request is pending and
// not yet expired at now
func checkPending(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	var status string
	var expiresAt int64
	err := tx.QueryRowContext(ctx,
		`SELECT status, expires_at FROM credential_requests WHERE id = ?`, id,
	).Scan(&status, &expiresAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: request %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to get request: %w", err)
	}

	req := models.CredentialRequest{Status: models.RequestStatus(status), ExpiresAt: fromNanos(expiresAt)}
	if st := req.EffectiveStatus(now); st != models.StatusPending {
		return fmt.Errorf("%w: request %s is %s", errs.ErrState, id, st)
	}
	return nil
}

// casStatus updates the status only while it still equals from
func casStatus(ctx context.Context, tx *sql.Tx, id string, from, to models.RequestStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE credential_requests SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM credential_requests WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: request %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to get request status: %w", err)
	}
	return fmt.Errorf("%w: request %s is %s, not %s", errs.ErrState, id, current, from)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.CredentialRequest, error) {
	req := &models.CredentialRequest{}
	var status string
	var reqContext, ledgerTxID sql.NullString
	var createdAt, expiresAt int64

	err := row.Scan(
		&req.ID,
		&req.RequesterID,
		&status,
		&req.Reason,
		&req.VaultID,
		&req.Path,
		&reqContext,
		&req.Emergency,
		&createdAt,
		&expiresAt,
		&ledgerTxID,
	)
	if err != nil {
		return nil, err
	}

	req.Status = models.RequestStatus(status)
	req.CreatedAt = fromNanos(createdAt)
	req.ExpiresAt = fromNanos(expiresAt)
	req.LedgerTxID = ledgerTxID.String
	if reqContext.Valid && reqContext.String != "" {
		if err := json.Unmarshal([]byte(reqContext.String), &req.Context); err != nil {
			return nil, fmt.Errorf("%w: request context: %v", errs.ErrFormat, err)
		}
	}
	return req, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
