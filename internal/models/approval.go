package models

import "time"

// CredentialApproval records the single owner approval of a request
type CredentialApproval struct {
	RequestID      string        `json:"request_id"`
	ApproverID     string        `json:"approver_id"`
	Signature      string        `json:"signature"`
	ApprovedAt     time.Time     `json:"approved_at"`
	TTL            time.Duration `json:"ttl"`
	Nonce          string        `json:"-"` // Never expose the token nonce
	TokenExpiresAt time.Time     `json:"token_expires_at"`
	LedgerTxID     string        `json:"ledger_tx_id,omitempty"`
}

// CredentialDenial records an owner refusing a request
type CredentialDenial struct {
	RequestID  string    `json:"request_id"`
	ApproverID string    `json:"approver_id"`
	Reason     string    `json:"reason,omitempty"`
	DeniedAt   time.Time `json:"denied_at"`
}
