// Package credential runs the break-glass request lifecycle: a requester
// asks for a secret, an owner approves with an offline signature, and an
// agent redeems the resulting single-use token exactly once.
//
//	pending --approve--> approved --retrieve--> retrieved
//	pending --deny-----> denied
//	pending --expiry---> expired
//
// Every transition is recorded in the audit ledger.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/adamscao/breakglass/internal/clock"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/ledger"
	"github.com/adamscao/breakglass/internal/metrics"
	"github.com/adamscao/breakglass/internal/models"
	"github.com/adamscao/breakglass/internal/nonce"
	"github.com/adamscao/breakglass/internal/notify"
	"github.com/adamscao/breakglass/internal/policy"
	"github.com/adamscao/breakglass/internal/signature"
	"github.com/adamscao/breakglass/internal/token"
	"github.com/adamscao/breakglass/internal/tracing"
	"github.com/adamscao/breakglass/internal/vault"
)

// notifyTimeout bounds a single owner notification
const notifyTimeout = 30 * time.Second

// Retrieval rejection reasons recorded in the ledger
const (
	ReasonFormat    = "format"
	ReasonSignature = "signature"
	ReasonExpired   = "expired"
	ReasonReplay    = "replay"
	ReasonScope     = "scope"
	ReasonState     = "state"
	ReasonVault     = "vault"
	ReasonAudit     = "audit"
)

// CreateRequestInput describes a new credential request
type CreateRequestInput struct {
	RequesterID string
	Reason      string
	VaultID     string
	Path        string
	Context     map[string]string
	Emergency   bool
}

// ApproveInput carries an owner's signed approval. ApprovedAt is the time
// the owner signed, which is part of the signed message.
type ApproveInput struct {
	RequestID  string
	ApproverID string
	Signature  string
	ApprovedAt time.Time
	TTL        time.Duration // zero selects the policy default
}

// ListFilter narrows List results
type ListFilter struct {
	Status        models.RequestStatus
	EmergencyOnly bool
	// OpenOnly drops requests that can no longer change state.
	OpenOnly bool
}

// Retrieval is the result of redeeming a token
type Retrieval struct {
	RequestID   string
	VaultID     string
	Path        string
	Secret      []byte // opaque, still encrypted by the vault
	RetrievedAt time.Time
	LedgerTxID  string
}

// Manager orchestrates credential requests
type Manager struct {
	store     Store
	issuer    *token.Issuer
	ledger    *ledger.Ledger
	approvers signature.ApproverKeys
	vault     vault.Vault

	policy   *policy.Validator
	nonces   nonce.Store
	notifier notify.Notifier
	ownerOf  func(vaultID string) string
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger

	notifications sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the clock used for expiry decisions
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithPolicy sets the request and TTL policy
func WithPolicy(v *policy.Validator) Option {
	return func(m *Manager) { m.policy = v }
}

// WithNonceStore lets ExpireStale reclaim expired nonces
func WithNonceStore(s nonce.Store) Option {
	return func(m *Manager) { m.nonces = s }
}

// WithNotifier sets how vault owners are alerted to emergency requests
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithOwnerResolver maps a vault id to the owner to notify
func WithOwnerResolver(fn func(vaultID string) string) Option {
	return func(m *Manager) { m.ownerOf = fn }
}

// WithMetrics sets the metrics sink
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager
func NewManager(store Store, issuer *token.Issuer, l *ledger.Ledger, approvers signature.ApproverKeys, v vault.Vault, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		issuer:    issuer,
		ledger:    l,
		approvers: approvers,
		vault:     v,
		clock:     clock.Real(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.policy == nil {
		m.policy = policy.NewValidator(nil)
	}
	if m.notifier == nil {
		m.notifier = notify.NewLogNotifier(m.logger)
	}
	if m.ownerOf == nil {
		m.ownerOf = func(vaultID string) string { return vaultID }
	}
	return m
}

// CreateRequest records a new pending request. Emergency requests also
// notify the vault owner in the background.
func (m *Manager) CreateRequest(ctx context.Context, in CreateRequestInput) (req *models.CredentialRequest, err error) {
	ctx, end := tracing.StartSpan(ctx, "credential.CreateRequest",
		attribute.String("vault.id", in.VaultID),
		attribute.Bool("request.emergency", in.Emergency),
	)
	defer func() { end(err) }()

	if err := m.policy.ValidateCreateRequest(in.RequesterID, in.Reason, in.VaultID, in.Path); err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	id, err := newRequestID(now)
	if err != nil {
		return nil, err
	}
	req = &models.CredentialRequest{
		ID:          id,
		RequesterID: in.RequesterID,
		Status:      models.StatusPending,
		Reason:      in.Reason,
		VaultID:     in.VaultID,
		Path:        in.Path,
		Context:     copyContext(in.Context),
		Emergency:   in.Emergency,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.policy.RequestExpiry(in.Emergency)),
	}
	tracing.SetAttributes(ctx, attribute.String("request.id", id))

	entry, err := m.ledger.Append(ctx, ledger.CredentialRequested{
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		Reason:      req.Reason,
		VaultID:     req.VaultID,
		Path:        req.Path,
		Context:     req.Context,
		Emergency:   req.Emergency,
		CreatedAt:   req.CreatedAt.Unix(),
		ExpiresAt:   req.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record credential request: %w", err)
	}
	req.LedgerTxID = entry.TransactionID

	if err := m.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to store credential request: %w", err)
	}

	m.metrics.IncRequestsCreated(req.Emergency)
	m.logger.Info("credential request created",
		"request_id", req.ID,
		"requester_id", req.RequesterID,
		"vault_id", req.VaultID,
		"emergency", req.Emergency,
		"expires_at", req.ExpiresAt,
	)

	if req.Emergency {
		m.notifyOwner(ctx, req)
	}
	return req, nil
}

// notifyOwner alerts the vault owner without holding up the caller.
// Failures are logged and counted only.
func (m *Manager) notifyOwner(ctx context.Context, req *models.CredentialRequest) {
	owner := m.ownerOf(req.VaultID)
	summary := fmt.Sprintf("Emergency credential request %s by %s for %s/%s: %s",
		req.ID, req.RequesterID, req.VaultID, req.Path, req.Reason)

	m.notifications.Add(1)
	go func() {
		defer m.notifications.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := m.notifier.Notify(nctx, owner, summary); err != nil {
			m.metrics.IncNotifyFailures()
			m.logger.Warn("owner notification failed", "request_id", req.ID, "owner_id", owner, "error", err)
		}
	}()
}

// WaitNotifications blocks until background notifications have finished
func (m *Manager) WaitNotifications() {
	m.notifications.Wait()
}

// GetRequest returns a request as observed now
func (m *Manager) GetRequest(ctx context.Context, id string) (*models.CredentialRequest, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: request id is required", errs.ErrValidation)
	}
	req, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Status = req.EffectiveStatus(m.clock.Now())
	return req, nil
}

// GetApproval returns the approval recorded for a request
func (m *Manager) GetApproval(ctx context.Context, requestID string) (*models.CredentialApproval, error) {
	return m.store.GetApproval(ctx, requestID)
}

// List returns requests newest first, with lazy expiry applied before the
// status filter.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*models.CredentialRequest, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", errs.ErrValidation, filter.Status)
	}
	reqs, err := m.store.ListRequests(ctx, models.RequestFilter{EmergencyOnly: filter.EmergencyOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to list credential requests: %w", err)
	}

	now := m.clock.Now()
	out := reqs[:0]
	for _, r := range reqs {
		r.Status = r.EffectiveStatus(now)
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.OpenOnly && r.Status.Terminal() {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Approve verifies an owner's signed approval and issues the request's
// single-use token. At most one approval per request ever succeeds.
func (m *Manager) Approve(ctx context.Context, in ApproveInput) (bundle *models.TokenBundle, err error) {
	ctx, end := tracing.StartSpan(ctx, "credential.Approve",
		attribute.String("request.id", in.RequestID),
		attribute.String("approver.id", in.ApproverID),
	)
	defer func() {
		end(err)
		m.metrics.IncApprovals(outcome(err))
	}()

	if in.RequestID == "" || in.ApproverID == "" || in.Signature == "" {
		return nil, fmt.Errorf("%w: request id, approver id and signature are required", errs.ErrValidation)
	}
	if in.ApprovedAt.IsZero() {
		return nil, fmt.Errorf("%w: approval timestamp is required", errs.ErrValidation)
	}

	req, err := m.store.GetRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	switch st := req.EffectiveStatus(now); st {
	case models.StatusPending:
	case models.StatusApproved, models.StatusRetrieved:
		return nil, fmt.Errorf("%w: request %s already approved", errs.ErrState, req.ID)
	default:
		return nil, fmt.Errorf("%w: request %s is %s", errs.ErrState, req.ID, st)
	}

	pub, err := m.approvers.PublicKey(ctx, in.ApproverID)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to load approver key: %w", err)
		}
		if !errors.Is(err, errs.ErrAuthentication) && !errors.Is(err, errs.ErrValidation) {
			err = fmt.Errorf("%w: approver key for %s is unusable: %w", errs.ErrAuthentication, in.ApproverID, err)
		}
		return nil, m.rejectApproval(ctx, in, err)
	}
	msg := signature.ApprovalMessage(req.ID, in.ApprovedAt)
	if !signature.VerifySignature(pub, msg, in.Signature) {
		return nil, m.rejectApproval(ctx, in,
			fmt.Errorf("%w: approval signature does not verify", errs.ErrAuthentication))
	}
	tracing.AddEvent(ctx, "signature.verified")

	ttl, err := m.policy.ResolveTTL(in.TTL)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.Writable(ctx); err != nil {
		return nil, fmt.Errorf("failed to record approval: %w", err)
	}

	bundle, err = m.issuer.IssueToken(ctx, req.ID, req.VaultID, req.Path, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	approval := &models.CredentialApproval{
		RequestID:      req.ID,
		ApproverID:     in.ApproverID,
		Signature:      in.Signature,
		ApprovedAt:     in.ApprovedAt.UTC().Truncate(time.Second),
		TTL:            ttl,
		Nonce:          bundle.Nonce,
		TokenExpiresAt: bundle.ExpiresAt,
	}
	if err := m.store.ApproveRequest(ctx, approval, now); err != nil {
		m.revokeOrphan(ctx, req.ID, bundle.Nonce)
		return nil, err
	}

	entry, err := m.ledger.Append(ctx, ledger.CredentialApproved{
		RequestID:      req.ID,
		ApproverID:     in.ApproverID,
		KeyFingerprint: signature.Fingerprint(pub),
		Signature:      in.Signature,
		ApprovedAt:     approval.ApprovedAt.Unix(),
		TTLSeconds:     int64(ttl / time.Second),
		TokenExpiresAt: bundle.ExpiresAt.Unix(),
	})
	if err != nil {
		// An unaudited approval must not stand.
		m.revokeOrphan(ctx, req.ID, bundle.Nonce)
		if rerr := m.store.RevertApproval(ctx, req.ID); rerr != nil {
			m.logger.Error("failed to revert unrecorded approval", "request_id", req.ID, "error", rerr)
		}
		return nil, fmt.Errorf("failed to record approval: %w", err)
	}
	if err := m.store.SetApprovalLedgerTxID(ctx, req.ID, entry.TransactionID); err != nil {
		m.logger.Warn("failed to attach ledger reference to approval", "request_id", req.ID, "error", err)
	}

	m.logger.Info("credential request approved",
		"request_id", req.ID,
		"approver_id", in.ApproverID,
		"ttl", ttl,
		"token_expires_at", bundle.ExpiresAt,
	)
	return bundle, nil
}

// rejectApproval records a failed approval attempt and returns cause,
// joined with any ledger failure.
func (m *Manager) rejectApproval(ctx context.Context, in ApproveInput, cause error) error {
	m.logger.Warn("approval rejected", "request_id", in.RequestID, "approver_id", in.ApproverID, "error", cause)
	_, err := m.ledger.Append(ctx, ledger.CredentialApprovalRejected{
		RequestID:  in.RequestID,
		ApproverID: in.ApproverID,
		Reason:     errs.Kind(cause),
	})
	if err != nil {
		return fmt.Errorf("%w (failed to record rejection: %w)", cause, err)
	}
	return cause
}

func (m *Manager) revokeOrphan(ctx context.Context, requestID, n string) {
	if err := m.issuer.RevokeToken(ctx, n); err != nil {
		m.logger.Error("failed to revoke orphaned token", "request_id", requestID, "error", err)
	}
}

// Deny refuses a pending request
func (m *Manager) Deny(ctx context.Context, id, approverID, reason string) (err error) {
	ctx, end := tracing.StartSpan(ctx, "credential.Deny",
		attribute.String("request.id", id),
		attribute.String("approver.id", approverID),
	)
	defer func() { end(err) }()

	if id == "" || approverID == "" {
		return fmt.Errorf("%w: request id and approver id are required", errs.ErrValidation)
	}
	if err := m.ledger.Writable(ctx); err != nil {
		return fmt.Errorf("failed to record denial: %w", err)
	}
	now := m.clock.Now()
	denial := &models.CredentialDenial{
		RequestID:  id,
		ApproverID: approverID,
		Reason:     reason,
		DeniedAt:   now.UTC(),
	}
	if err := m.store.DenyRequest(ctx, denial, now); err != nil {
		return err
	}

	if _, err := m.ledger.Append(ctx, ledger.CredentialDenied{
		RequestID:  id,
		ApproverID: approverID,
		Reason:     reason,
	}); err != nil {
		if rerr := m.store.RevertDenial(ctx, id); rerr != nil {
			m.logger.Error("failed to revert unrecorded denial", "request_id", id, "error", rerr)
		}
		return fmt.Errorf("failed to record denial: %w", err)
	}

	m.logger.Info("credential request denied", "request_id", id, "approver_id", approverID)
	return nil
}

// Retrieve redeems tok for the secret it grants. The token is consumed by
// the first attempt that passes signature and expiry checks, whatever the
// later outcome. A secret is only returned once its retrieval is in the
// ledger.
func (m *Manager) Retrieve(ctx context.Context, agentID, tok string) (ret *Retrieval, err error) {
	ctx, end := tracing.StartSpan(ctx, "credential.Retrieve", attribute.String("agent.id", agentID))
	defer func() {
		end(err)
		m.metrics.IncRetrievals(outcome(err))
	}()

	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", errs.ErrValidation)
	}

	if err := m.ledger.Writable(ctx); err != nil {
		return nil, fmt.Errorf("failed to record retrieval: %w", err)
	}

	claims, err := m.issuer.ValidateToken(ctx, tok)
	if err != nil {
		requestID := ""
		if claims != nil {
			requestID = claims.RequestID
		}
		return nil, m.rejectRetrieval(ctx, requestID, agentID, tokenReason(err), err)
	}
	tracing.SetAttributes(ctx, attribute.String("request.id", claims.RequestID))

	req, err := m.store.GetRequest(ctx, claims.RequestID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			err = fmt.Errorf("%w: token refers to unknown request %s", errs.ErrState, claims.RequestID)
		}
		return nil, m.rejectRetrieval(ctx, claims.RequestID, agentID, ReasonState, err)
	}
	if req.Status != models.StatusApproved {
		return nil, m.rejectRetrieval(ctx, req.ID, agentID, ReasonState,
			fmt.Errorf("%w: request %s is %s", errs.ErrState, req.ID, req.Status))
	}
	if claims.VaultID != req.VaultID || claims.Path != req.Path {
		return nil, m.rejectRetrieval(ctx, req.ID, agentID, ReasonScope,
			fmt.Errorf("%w: token scope does not match request target", errs.ErrAuthentication))
	}

	secret, err := m.vault.GetSecret(ctx, req.VaultID, req.Path)
	if err != nil {
		return nil, m.rejectRetrieval(ctx, req.ID, agentID, ReasonVault,
			fmt.Errorf("vault access failed: %w", err))
	}

	if err := m.store.UpdateStatus(ctx, req.ID, models.StatusApproved, models.StatusRetrieved); err != nil {
		return nil, m.rejectRetrieval(ctx, req.ID, agentID, ReasonState, err)
	}
	entry, err := m.ledger.Append(ctx, ledger.CredentialRetrieved{
		RequestID: req.ID,
		AgentID:   agentID,
		VaultID:   req.VaultID,
		Path:      req.Path,
	})
	if err != nil {
		if rerr := m.store.UpdateStatus(ctx, req.ID, models.StatusRetrieved, models.StatusApproved); rerr != nil {
			m.logger.Error("failed to revert unrecorded retrieval", "request_id", req.ID, "error", rerr)
		}
		return nil, m.rejectRetrieval(ctx, req.ID, agentID, ReasonAudit,
			fmt.Errorf("failed to record retrieval: %w", err))
	}

	m.logger.Info("credential retrieved", "request_id", req.ID, "agent_id", agentID, "vault_id", req.VaultID)
	return &Retrieval{
		RequestID:   req.ID,
		VaultID:     req.VaultID,
		Path:        req.Path,
		Secret:      secret,
		RetrievedAt: entry.Timestamp,
		LedgerTxID:  entry.TransactionID,
	}, nil
}

func (m *Manager) rejectRetrieval(ctx context.Context, requestID, agentID, reason string, cause error) error {
	m.logger.Warn("retrieval rejected",
		"request_id", requestID,
		"agent_id", agentID,
		"reason", reason,
		"error", cause,
	)
	_, err := m.ledger.Append(ctx, ledger.CredentialRetrievalRejected{
		RequestID: requestID,
		AgentID:   agentID,
		Reason:    reason,
		Detail:    cause.Error(),
	})
	if err != nil {
		return fmt.Errorf("%w (failed to record rejection: %w)", cause, err)
	}
	return cause
}

// tokenReason maps a token validation failure onto a ledger reason
func tokenReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrFormat):
		return ReasonFormat
	case errors.Is(err, errs.ErrAuthentication):
		return ReasonSignature
	case errors.Is(err, errs.ErrExpired):
		return ReasonExpired
	case errors.Is(err, errs.ErrReplay):
		return ReasonReplay
	default:
		return ReasonState
	}
}

// RevokeToken invalidates the outstanding token of an approved request
func (m *Manager) RevokeToken(ctx context.Context, requestID, actorID string) (err error) {
	ctx, end := tracing.StartSpan(ctx, "credential.RevokeToken",
		attribute.String("request.id", requestID),
		attribute.String("actor.id", actorID),
	)
	defer func() { end(err) }()

	if requestID == "" || actorID == "" {
		return fmt.Errorf("%w: request id and actor id are required", errs.ErrValidation)
	}
	if err := m.ledger.Writable(ctx); err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}
	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.StatusApproved {
		return fmt.Errorf("%w: request %s is %s, no token outstanding", errs.ErrState, req.ID, req.Status)
	}
	approval, err := m.store.GetApproval(ctx, requestID)
	if err != nil {
		return err
	}
	if err := m.issuer.RevokeToken(ctx, approval.Nonce); err != nil {
		return err
	}

	if _, err := m.ledger.Append(ctx, ledger.CredentialTokenRevoked{
		RequestID: requestID,
		ActorID:   actorID,
	}); err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}
	m.logger.Info("credential token revoked", "request_id", requestID, "actor_id", actorID)
	return nil
}

// ExpireStale marks pending requests past their expiry as expired and
// reclaims expired nonces. It returns the number of requests expired.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	if err := m.ledger.Writable(ctx); err != nil {
		return 0, fmt.Errorf("failed to record expiry: %w", err)
	}
	now := m.clock.Now()
	stale, err := m.store.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired requests: %w", err)
	}

	expired := 0
	for _, req := range stale {
		if err := m.store.UpdateStatus(ctx, req.ID, models.StatusPending, models.StatusExpired); err != nil {
			if errors.Is(err, errs.ErrState) {
				continue
			}
			return expired, err
		}
		if _, err := m.ledger.Append(ctx, ledger.CredentialExpired{
			RequestID: req.ID,
			ExpiredAt: req.ExpiresAt.Unix(),
		}); err != nil {
			if rerr := m.store.UpdateStatus(ctx, req.ID, models.StatusExpired, models.StatusPending); rerr != nil {
				m.logger.Error("failed to revert unrecorded expiry", "request_id", req.ID, "error", rerr)
			}
			return expired, fmt.Errorf("failed to record expiry: %w", err)
		}
		expired++
	}

	if m.nonces != nil {
		removed, err := m.nonces.CleanupExpired(ctx)
		if err != nil {
			return expired, fmt.Errorf("failed to clean up nonces: %w", err)
		}
		if removed > 0 {
			m.logger.Debug("expired nonces removed", "count", removed)
		}
	}
	if expired > 0 {
		m.logger.Info("stale credential requests expired", "count", expired)
	}
	return expired, nil
}

// RunSweeper calls ExpireStale every interval until ctx is done
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	return errs.Kind(err)
}

// newRequestID returns REQ-YYYYMMDD-HHMMSS-<12 hex>
func newRequestID(now time.Time) (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate request id: %w", err)
	}
	return "REQ-" + now.UTC().Format("20060102-150405") + "-" + hex.EncodeToString(b[:]), nil
}

func copyContext(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
