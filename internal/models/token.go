package models

import "time"

// TokenBundle is returned to the approver after a successful approval
type TokenBundle struct {
	Token     string    `json:"token"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NonceRecord tracks a single-use token nonce
type NonceRecord struct {
	Nonce     string    `json:"nonce"`
	RequestID string    `json:"request_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// Fresh reports whether the nonce may still be consumed at now
func (n *NonceRecord) Fresh(now time.Time) bool {
	return !n.Consumed && now.Before(n.ExpiresAt)
}
