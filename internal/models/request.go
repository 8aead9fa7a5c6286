package models

import "time"

// RequestStatus is the lifecycle state of a credential request
type RequestStatus string

// Request status constants
const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusDenied    RequestStatus = "denied"
	StatusRetrieved RequestStatus = "retrieved"
	StatusExpired   RequestStatus = "expired"
)

// Valid reports whether s is a known status
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusRetrieved, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s
func (s RequestStatus) Terminal() bool {
	return s == StatusDenied || s == StatusRetrieved || s == StatusExpired
}

// CredentialRequest represents a request for break-glass access to a secret
type CredentialRequest struct {
	ID          string            `json:"id"`
	RequesterID string            `json:"requester_id"`
	Status      RequestStatus     `json:"status"`
	Reason      string            `json:"reason"`
	VaultID     string            `json:"vault_id"`
	Path        string            `json:"path"`
	Context     map[string]string `json:"context,omitempty"` // e.g. patient_id, study_id
	Emergency   bool              `json:"emergency"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	LedgerTxID  string            `json:"ledger_tx_id,omitempty"`
}

// EffectiveStatus returns the status as observed at now. A pending request
// past its expiry is reported as expired.
func (r *CredentialRequest) EffectiveStatus(now time.Time) RequestStatus {
	if r.Status == StatusPending && !now.Before(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// RequestFilter narrows a request listing
type RequestFilter struct {
	Status        RequestStatus // empty matches all
	EmergencyOnly bool
}
