// Package report stamps finalized report content with a ledger entry so it
// can later be checked for tampering.
package report

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adamscao/breakglass/internal/clock"
	"github.com/adamscao/breakglass/internal/codec"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/ledger"
	"github.com/adamscao/breakglass/internal/metrics"
	"github.com/adamscao/breakglass/internal/models"
	"github.com/adamscao/breakglass/internal/signature"
)

// Finalizer records report content hashes in the audit ledger
type Finalizer struct {
	ledger  *ledger.Ledger
	signers signature.ApproverKeys
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Finalizer
type Option func(*Finalizer)

// WithClock sets the clock used for stamp timestamps
func WithClock(c clock.Clock) Option {
	return func(f *Finalizer) { f.clock = c }
}

// WithSignerKeys makes FinalizeReport verify practitioner signatures
// against keys. Without it signatures are recorded as given.
func WithSignerKeys(keys signature.ApproverKeys) Option {
	return func(f *Finalizer) { f.signers = keys }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Finalizer) { f.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finalizer) { f.logger = logger }
}

// NewFinalizer creates a finalizer writing to l
func NewFinalizer(l *ledger.Ledger, opts ...Option) *Finalizer {
	f := &Finalizer{
		ledger: l,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ComputeContentHash returns the hex SHA-256 of content's canonical JSON
// form. Key order never affects the result. Nested values should be maps,
// slices and scalars; struct field order is not normalized.
func ComputeContentHash(content map[string]any) (string, error) {
	data, err := codec.CanonicalJSON(content)
	if err != nil {
		return "", fmt.Errorf("%w: report content is not serializable: %v", errs.ErrValidation, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SignatureMessage is the message a practitioner signs for a finalized report
func SignatureMessage(reportID, contentHash string) string {
	return reportID + " | " + contentHash
}

// FinalizeReport hashes content, records the hash in the ledger and returns
// the resulting stamp.
func (f *Finalizer) FinalizeReport(ctx context.Context, reportID string, content map[string]any, practitionerID, sig string) (*models.ReportAuditStamp, error) {
	if reportID == "" {
		return nil, fmt.Errorf("%w: report_id is required", errs.ErrValidation)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: report content is empty", errs.ErrValidation)
	}
	if practitionerID == "" {
		return nil, fmt.Errorf("%w: practitioner_id is required", errs.ErrValidation)
	}

	hash, err := ComputeContentHash(content)
	if err != nil {
		return nil, err
	}

	if sig != "" && f.signers != nil {
		pub, err := f.signers.PublicKey(ctx, practitionerID)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("failed to load practitioner key: %w", err)
			}
			if !errors.Is(err, errs.ErrAuthentication) && !errors.Is(err, errs.ErrValidation) {
				err = fmt.Errorf("%w: practitioner key for %s is unusable: %w", errs.ErrAuthentication, practitionerID, err)
			}
			return nil, f.rejectSignature(ctx, reportID, hash, practitionerID, err)
		}
		if !signature.VerifySignature(pub, SignatureMessage(reportID, hash), sig) {
			return nil, f.rejectSignature(ctx, reportID, hash, practitionerID,
				fmt.Errorf("%w: report signature does not verify", errs.ErrAuthentication))
		}
	}

	now := f.clock.Now().UTC()
	entry, err := f.ledger.Append(ctx, ledger.ReportFinalized{
		ReportID:       reportID,
		ContentHash:    hash,
		PractitionerID: practitionerID,
		Signature:      sig,
		FinalizedAt:    now.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record report finalization: %w", err)
	}

	f.metrics.IncReportsFinalized()
	f.logger.Info("report finalized",
		"report_id", reportID,
		"practitioner_id", practitionerID,
		"content_hash", hash,
		"ledger_tx_id", entry.TransactionID,
	)

	return &models.ReportAuditStamp{
		ReportID:       reportID,
		ContentHash:    hash,
		Timestamp:      entry.Timestamp,
		PractitionerID: practitionerID,
		Signature:      sig,
		LedgerTxID:     entry.TransactionID,
		LedgerSequence: entry.Sequence,
	}, nil
}

// rejectSignature records a refused finalization and returns cause, joined
// with any ledger failure.
func (f *Finalizer) rejectSignature(ctx context.Context, reportID, hash, practitionerID string, cause error) error {
	f.logger.Warn("report signature rejected",
		"report_id", reportID,
		"practitioner_id", practitionerID,
		"error", cause,
	)
	_, err := f.ledger.Append(ctx, ledger.ReportSignatureRejected{
		ReportID:       reportID,
		ContentHash:    hash,
		PractitionerID: practitionerID,
		Reason:         errs.Kind(cause),
	})
	if err != nil {
		return fmt.Errorf("%w (failed to record rejection: %w)", cause, err)
	}
	return cause
}

// VerifyReportStamp reports whether content still matches stamp and the
// ledger entry the stamp names records the same hash. Mismatches return
// false with a nil error; an error means verification could not be done.
func (f *Finalizer) VerifyReportStamp(ctx context.Context, reportID string, content map[string]any, stamp *models.ReportAuditStamp) (bool, error) {
	if stamp == nil {
		return false, fmt.Errorf("%w: stamp is required", errs.ErrValidation)
	}
	if reportID != stamp.ReportID {
		return false, nil
	}

	hash, err := ComputeContentHash(content)
	if err != nil {
		return false, err
	}
	if hash != stamp.ContentHash {
		return false, nil
	}

	if res, broken := f.ledger.Broken(); broken {
		return false, fmt.Errorf("%w: ledger chain broken at sequence %d", errs.ErrIntegrity, res.BrokenAt)
	}

	entry, err := f.ledger.Entry(ctx, stamp.LedgerTxID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load ledger entry: %w", err)
	}
	if stamp.LedgerSequence != 0 && entry.Sequence != stamp.LedgerSequence {
		return false, nil
	}

	ev, err := ledger.Decode(entry)
	if err != nil {
		return false, err
	}
	rf, ok := ev.(ledger.ReportFinalized)
	if !ok {
		return false, nil
	}
	return rf.ReportID == reportID && rf.ContentHash == hash, nil
}

// VerifyStampSignature checks the practitioner signature carried by stamp
func VerifyStampSignature(pub ed25519.PublicKey, stamp *models.ReportAuditStamp) bool {
	if stamp == nil || stamp.Signature == "" {
		return false
	}
	return signature.VerifySignature(pub, SignatureMessage(stamp.ReportID, stamp.ContentHash), stamp.Signature)
}

// GetAuditTrail returns every ledger entry recorded for reportID
func (f *Finalizer) GetAuditTrail(ctx context.Context, reportID string) ([]models.LedgerEntry, error) {
	if reportID == "" {
		return nil, fmt.Errorf("%w: report_id is required", errs.ErrValidation)
	}
	return f.ledger.Entries(ctx, ledger.Query{Subject: reportID})
}
