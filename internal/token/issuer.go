// Package token issues and validates single-use access tokens.
//
// A token is self-contained: base64url(CBOR claims || Ed25519 signature).
// Anyone holding the issuer's public key can decode and verify it offline,
// but only the issuer's nonce store can accept it, and only once.
package token

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamscao/breakglass/internal/clock"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/metrics"
	"github.com/adamscao/breakglass/internal/models"
	"github.com/adamscao/breakglass/internal/nonce"
)

// Default issuer and audience tags
const (
	DefaultIssuer   = "breakglass-server"
	DefaultAudience = "breakglass-agent"
)

// Issuer mints and validates tokens
type Issuer struct {
	key      ed25519.PrivateKey
	pub      ed25519.PublicKey
	nonces   nonce.Store
	clock    clock.Clock
	issuer   string
	audience string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures an Issuer
type Option func(*Issuer)

// WithClock sets the clock used for issuance and expiry checks
func WithClock(c clock.Clock) Option {
	return func(i *Issuer) { i.clock = c }
}

// WithTags sets the issuer and audience tags written into and required of claims
func WithTags(issuer, audience string) Option {
	return func(i *Issuer) {
		if issuer != "" {
			i.issuer = issuer
		}
		if audience != "" {
			i.audience = audience
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) { i.logger = logger }
}

// NewIssuer creates an issuer signing with key and tracking nonces in store
func NewIssuer(key ed25519.PrivateKey, store nonce.Store, opts ...Option) *Issuer {
	i := &Issuer{
		key:      key,
		pub:      key.Public().(ed25519.PublicKey),
		nonces:   store,
		clock:    clock.Real(),
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// PublicKey returns the key tokens are verified against
func (i *Issuer) PublicKey() ed25519.PublicKey {
	return i.pub
}

// IssueToken mints a token for requestID scoped to vaultID/path and
// registers its nonce with the same expiry.
func (i *Issuer) IssueToken(ctx context.Context, requestID, vaultID, path string, ttl time.Duration) (*models.TokenBundle, error) {
	if requestID == "" || vaultID == "" || path == "" {
		return nil, fmt.Errorf("%w: request id, vault and path are required", errs.ErrValidation)
	}
	if ttl < time.Second {
		return nil, fmt.Errorf("%w: token ttl must be at least one second", errs.ErrValidation)
	}

	n, err := generateNonce()
	if err != nil {
		return nil, err
	}

	now := i.clock.Now()
	claims := &Claims{
		Issuer:    i.issuer,
		Audience:  i.audience,
		RequestID: requestID,
		VaultID:   vaultID,
		Path:      path,
		ExpiresAt: now.Add(ttl).Unix(),
		Nonce:     n,
		CreatedAt: now.Unix(),
	}

	tok, err := mint(i.key, claims)
	if err != nil {
		return nil, err
	}

	rec := models.NonceRecord{
		Nonce:     n,
		RequestID: requestID,
		ExpiresAt: claims.Expiry(),
	}
	if err := i.nonces.Add(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to register token nonce: %w", err)
	}

	i.metrics.IncTokensIssued()
	return &models.TokenBundle{
		Token:     tok,
		Nonce:     n,
		ExpiresAt: claims.Expiry(),
	}, nil
}

// ValidateToken checks format, signature, expiry and nonce freshness in that
// order and consumes the nonce on success. A token validates at most once.
func (i *Issuer) ValidateToken(ctx context.Context, tok string) (*Claims, error) {
	claims, err := i.validate(ctx, tok)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = errs.Kind(err)
		attrs := []any{"outcome", outcome, "error", err}
		if claims != nil {
			attrs = append(attrs, "request_id", claims.RequestID)
		}
		i.logger.Warn("token validation failed", attrs...)
	}
	i.metrics.IncTokenValidations(outcome)
	return claims, err
}

// validate returns the parsed claims alongside a failure when parsing got
// that far, so callers can attribute the rejection to a request.
func (i *Issuer) validate(ctx context.Context, tok string) (*Claims, error) {
	claims, payload, sig, err := parse(tok)
	if err != nil {
		return nil, err
	}

	if !ed25519.Verify(i.pub, payload, sig) {
		return claims, fmt.Errorf("%w: invalid token signature", errs.ErrAuthentication)
	}
	if claims.Issuer != i.issuer || claims.Audience != i.audience {
		return claims, fmt.Errorf("%w: token issuer or audience mismatch", errs.ErrAuthentication)
	}

	if i.clock.Now().Unix() >= claims.ExpiresAt {
		return claims, fmt.Errorf("%w: token expired at %s", errs.ErrExpired, claims.Expiry().Format(time.RFC3339))
	}

	if _, err := i.nonces.Consume(ctx, claims.Nonce); err != nil {
		if errors.Is(err, errs.ErrReplay) {
			return claims, err
		}
		return claims, fmt.Errorf("failed to consume token nonce: %w", err)
	}
	return claims, nil
}

// DecodeToken parses a token without verifying anything. The result must
// never be used to authorize access.
func DecodeToken(tok string) (*Claims, error) {
	claims, _, _, err := parse(tok)
	return claims, err
}

// RevokeToken marks nonce consumed so any token carrying it is rejected
func (i *Issuer) RevokeToken(ctx context.Context, n string) error {
	if err := i.nonces.MarkUsed(ctx, n); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}
