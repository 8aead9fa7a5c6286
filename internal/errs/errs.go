// Package errs defines the error kinds shared by every breakglass package.
//
// Callers wrap a sentinel with context ("%w: detail") and match it with
// errors.Is. None of these failures are retried internally.
package errs

import "errors"

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned for an unknown request, approval, nonce or ledger entry.
	ErrNotFound = errors.New("not found")

	// ErrAuthentication is returned for a bad signature, an unknown approver,
	// a wrong passphrase or a token scope mismatch.
	ErrAuthentication = errors.New("authentication failed")

	// ErrState is returned when an operation does not fit the current
	// lifecycle state, such as approving a request twice.
	ErrState = errors.New("invalid state")

	// ErrExpired is returned when a token lifetime has elapsed.
	ErrExpired = errors.New("expired")

	// ErrReplay is returned when a nonce is unknown, expired or already consumed.
	ErrReplay = errors.New("replay detected")

	// ErrIntegrity is returned when the ledger chain does not verify. The
	// ledger refuses appends while it is in this state.
	ErrIntegrity = errors.New("integrity violation")

	// ErrFormat is returned for tokens and records that cannot be parsed.
	ErrFormat = errors.New("malformed input")
)

// Kind returns a stable short label for err, used in metrics, ledger reasons
// and HTTP error codes. Errors outside the taxonomy are labeled "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrFormat):
		return "format"
	default:
		return "internal"
	}
}
