// Package nonce tracks single-use token nonces.
//
// Every Store is fail closed: a nonce that is unknown, expired or consumed
// is never accepted. Consume is the only way to accept a nonce and it is a
// single atomic check-and-mark, so concurrent validations of one token can
// succeed at most once.
package nonce

import (
	"context"

	"github.com/adamscao/breakglass/internal/models"
)

// Store is the nonce table
type Store interface {
	// Add registers a fresh nonce. Adding an existing nonce fails.
	Add(ctx context.Context, rec models.NonceRecord) error

	// IsUsed reports true when the nonce is unknown, expired or consumed.
	IsUsed(ctx context.Context, nonce string) (bool, error)

	// MarkUsed marks the nonce consumed. It is idempotent. An unknown
	// nonce yields errs.ErrNotFound, and stays rejected regardless.
	MarkUsed(ctx context.Context, nonce string) error

	// Consume atomically marks a fresh nonce consumed. It fails with
	// errs.ErrReplay when the nonce is unknown, expired or already consumed.
	Consume(ctx context.Context, nonce string) (models.NonceRecord, error)

	// CleanupExpired deletes records past their expiry and returns how
	// many were removed. Correctness never depends on it.
	CleanupExpired(ctx context.Context) (int, error)
}
