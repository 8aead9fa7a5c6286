package models

import "time"

// ReportAuditStamp binds a finalized report's content hash to a ledger entry
type ReportAuditStamp struct {
	ReportID       string    `json:"report_id"`
	ContentHash    string    `json:"content_hash"`
	Timestamp      time.Time `json:"timestamp"`
	PractitionerID string    `json:"practitioner_id"`
	Signature      string    `json:"signature,omitempty"`
	LedgerTxID     string    `json:"ledger_tx_id"`
	LedgerSequence uint64    `json:"ledger_sequence"`
}
