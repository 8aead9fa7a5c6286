package models

import "time"

// LedgerEntry is one record of the hash-chained audit ledger. Payload holds
// the canonical encoding of the event envelope; Hash covers the sequence,
// the payload and the previous hash.
type LedgerEntry struct {
	Sequence      uint64    `json:"sequence"`
	TransactionID string    `json:"transaction_id"`
	Type          string    `json:"type"`
	Subject       string    `json:"subject"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       []byte    `json:"payload"`
	Hash          string    `json:"hash"`
	PrevHash      string    `json:"previous_hash"`
}
