package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/adamscao/breakglass/internal/codec"
	"github.com/adamscao/breakglass/internal/errs"
)

const (
	signatureSize = ed25519.SignatureSize
	nonceLength   = 32 // 32 bytes = 256 bits
)

// Claims is the signed body of an access token. Field numbers are part of
// the wire format.
type Claims struct {
	Issuer    string `cbor:"1,keyasint" json:"iss"`
	Audience  string `cbor:"2,keyasint" json:"aud"`
	RequestID string `cbor:"3,keyasint" json:"req_id"`
	VaultID   string `cbor:"4,keyasint" json:"vault"`
	Path      string `cbor:"5,keyasint" json:"path"`
	ExpiresAt int64  `cbor:"6,keyasint" json:"exp"` // epoch seconds
	Nonce     string `cbor:"7,keyasint" json:"nonce"`
	CreatedAt int64  `cbor:"8,keyasint" json:"created_at"` // epoch seconds
}

// Expiry returns ExpiresAt as a time
func (c *Claims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0).UTC()
}

// mint encodes claims and appends the Ed25519 signature over the encoded
// claims. The token string is the base64url form of claims || signature.
func mint(key ed25519.PrivateKey, claims *Claims) (string, error) {
	payload, err := codec.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode token claims: %w", err)
	}
	sig := ed25519.Sign(key, payload)

	raw := make([]byte, len(payload)+signatureSize)
	copy(raw, payload)
	copy(raw[len(payload):], sig)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// parse splits a token into its claims and signature without verifying it
func parse(tok string) (*Claims, []byte, []byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: token is not base64url", errs.ErrFormat)
	}
	if len(raw) <= signatureSize {
		return nil, nil, nil, fmt.Errorf("%w: token too short for signature", errs.ErrFormat)
	}

	split := len(raw) - signatureSize
	payload, sig := raw[:split], raw[split:]

	var claims Claims
	if err := codec.Unmarshal(payload, &claims); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: token claims: %w", errs.ErrFormat, err)
	}
	if claims.Nonce == "" || claims.RequestID == "" {
		return nil, nil, nil, fmt.Errorf("%w: token claims incomplete", errs.ErrFormat)
	}
	return &claims, payload, sig, nil
}

// generateNonce returns a random base64url nonce
func generateNonce() (string, error) {
	b := make([]byte, nonceLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
