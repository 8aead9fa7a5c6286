package db

import (
	"context"
	"database/sql"
	"fmt"
)

// currentSchemaVersion is the version initializeSchema creates
const currentSchemaVersion = 1

// RunMigrations executes all database migrations
func RunMigrations(db *DB) error {
	// Check if schema_version table exists
	var tableExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !tableExists {
		// First time initialization
		if err := initializeSchema(db); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	}

	// Get current version
	currentVersion, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	// Currently only version 1 exists
	if currentVersion < 1 || currentVersion > currentSchemaVersion {
		return fmt.Errorf("invalid schema version: %d", currentVersion)
	}

	return nil
}

// SchemaVersion returns the most recently applied schema version
func SchemaVersion(db *DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT version FROM schema_version
		ORDER BY applied_at DESC, version DESC LIMIT 1
	`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current schema version: %w", err)
	}
	return version, nil
}

// initializeSchema creates all tables for a new database
func initializeSchema(db *DB) error {
	tx, err := db.BeginTx(context.Background())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Schema version table
	if err := execSQL(tx, schemaVersionTable); err != nil {
		return err
	}

	// Credential requests table
	if err := execSQL(tx, credentialRequestsTable); err != nil {
		return err
	}
	if err := execSQL(tx, credentialRequestsIndexes); err != nil {
		return err
	}

	// Approvals and denials
	if err := execSQL(tx, credentialApprovalsTable); err != nil {
		return err
	}
	if err := execSQL(tx, credentialDenialsTable); err != nil {
		return err
	}

	// Nonces table
	if err := execSQL(tx, noncesTable); err != nil {
		return err
	}
	if err := execSQL(tx, noncesIndexes); err != nil {
		return err
	}

	// Ledger table
	if err := execSQL(tx, ledgerEntriesTable); err != nil {
		return err
	}
	if err := execSQL(tx, ledgerEntriesIndexes); err != nil {
		return err
	}

	// Insert initial schema version
	if err := execSQL(tx, fmt.Sprintf(`INSERT INTO schema_version (version) VALUES (%d)`, currentSchemaVersion)); err != nil {
		return err
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

// Schema definitions. Timestamps are stored as INTEGER unix nanoseconds so
// comparisons against the injected clock are exact.
const (
	schemaVersionTable = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	credentialRequestsTable = `
CREATE TABLE credential_requests (
    id            TEXT PRIMARY KEY,
    requester_id  TEXT NOT NULL,
    status        TEXT NOT NULL CHECK (status IN ('pending','approved','denied','retrieved','expired')),
    reason        TEXT NOT NULL,
    vault_id      TEXT NOT NULL,
    path          TEXT NOT NULL,
    context       TEXT,
    emergency     INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    expires_at    INTEGER NOT NULL,
    ledger_tx_id  TEXT
)`

	credentialRequestsIndexes = `
CREATE INDEX idx_requests_status ON credential_requests(status);
CREATE INDEX idx_requests_created_at ON credential_requests(created_at);
CREATE INDEX idx_requests_expires_at ON credential_requests(expires_at);
CREATE INDEX idx_requests_emergency ON credential_requests(emergency)`

	credentialApprovalsTable = `
CREATE TABLE credential_approvals (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id        TEXT NOT NULL UNIQUE,
    approver_id       TEXT NOT NULL,
    signature         TEXT NOT NULL,
    approved_at       INTEGER NOT NULL,
    ttl_seconds       INTEGER NOT NULL,
    nonce             TEXT NOT NULL,
    token_expires_at  INTEGER NOT NULL,
    ledger_tx_id      TEXT,

    FOREIGN KEY (request_id) REFERENCES credential_requests(id) ON DELETE CASCADE
)`

	credentialDenialsTable = `
CREATE TABLE credential_denials (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id   TEXT NOT NULL UNIQUE,
    approver_id  TEXT NOT NULL,
    reason       TEXT,
    denied_at    INTEGER NOT NULL,

    FOREIGN KEY (request_id) REFERENCES credential_requests(id) ON DELETE CASCADE
)`

	noncesTable = `
CREATE TABLE nonces (
    nonce       TEXT PRIMARY KEY,
    request_id  TEXT NOT NULL,
    expires_at  INTEGER NOT NULL,
    consumed    INTEGER NOT NULL DEFAULT 0
)`

	noncesIndexes = `
CREATE INDEX idx_nonces_request_id ON nonces(request_id);
CREATE INDEX idx_nonces_expires_at ON nonces(expires_at)`

	ledgerEntriesTable = `
CREATE TABLE ledger_entries (
    sequence        INTEGER PRIMARY KEY,
    transaction_id  TEXT NOT NULL UNIQUE,
    type            TEXT NOT NULL,
    subject         TEXT NOT NULL,
    timestamp       INTEGER NOT NULL,
    payload         BLOB NOT NULL,
    hash            TEXT NOT NULL,
    previous_hash   TEXT NOT NULL DEFAULT ''
)`

	ledgerEntriesIndexes = `
CREATE INDEX idx_ledger_type ON ledger_entries(type);
CREATE INDEX idx_ledger_subject ON ledger_entries(subject)`
)
