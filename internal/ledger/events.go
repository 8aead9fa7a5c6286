package ledger

import (
	"fmt"

	"github.com/adamscao/breakglass/internal/codec"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/models"
)

// EventType tags a ledger entry
type EventType string

// Ledger event types
const (
	TypeCredentialRequested         EventType = "CREDENTIAL_REQUEST"
	TypeCredentialApproved          EventType = "CREDENTIAL_APPROVED"
	TypeCredentialApprovalRejected  EventType = "CREDENTIAL_APPROVAL_REJECTED"
	TypeCredentialDenied            EventType = "CREDENTIAL_DENIED"
	TypeCredentialRetrieved         EventType = "CREDENTIAL_RETRIEVED"
	TypeCredentialRetrievalRejected EventType = "CREDENTIAL_RETRIEVAL_REJECTED"
	TypeCredentialTokenRevoked      EventType = "CREDENTIAL_TOKEN_REVOKED"
	TypeCredentialExpired           EventType = "CREDENTIAL_EXPIRED"
	TypeReportFinalized             EventType = "REPORT_FINALIZED"
	TypeReportSignatureRejected     EventType = "REPORT_SIGNATURE_REJECTED"
)

// Event is a ledger event body. The set of implementations is closed;
// Decode must be extended together with any new type.
type Event interface {
	EventType() EventType
	// SubjectID is the request or report the event is about.
	SubjectID() string
	isEvent()
}

// CredentialRequested records a new credential request
type CredentialRequested struct {
	RequestID   string            `cbor:"request_id" json:"request_id"`
	RequesterID string            `cbor:"requester_id" json:"requester_id"`
	Reason      string            `cbor:"reason" json:"reason"`
	VaultID     string            `cbor:"vault_id" json:"vault_id"`
	Path        string            `cbor:"path" json:"path"`
	Context     map[string]string `cbor:"context,omitempty" json:"context,omitempty"`
	Emergency   bool              `cbor:"emergency" json:"emergency"`
	CreatedAt   int64             `cbor:"created_at" json:"created_at"`
	ExpiresAt   int64             `cbor:"expires_at" json:"expires_at"`
}

// CredentialApproved records a successful owner approval and the token issued for it
type CredentialApproved struct {
	RequestID      string `cbor:"request_id" json:"request_id"`
	ApproverID     string `cbor:"approver_id" json:"approver_id"`
	KeyFingerprint string `cbor:"key_fingerprint" json:"key_fingerprint"`
	Signature      string `cbor:"signature" json:"signature"`
	ApprovedAt     int64  `cbor:"approved_at" json:"approved_at"`
	TTLSeconds     int64  `cbor:"ttl_seconds" json:"ttl_seconds"`
	TokenExpiresAt int64  `cbor:"token_expires_at" json:"token_expires_at"`
}

// CredentialApprovalRejected records an approval attempt that failed authentication
type CredentialApprovalRejected struct {
	RequestID  string `cbor:"request_id" json:"request_id"`
	ApproverID string `cbor:"approver_id" json:"approver_id"`
	Reason     string `cbor:"reason" json:"reason"`
}

// CredentialDenied records an owner refusing a request
type CredentialDenied struct {
	RequestID  string `cbor:"request_id" json:"request_id"`
	ApproverID string `cbor:"approver_id" json:"approver_id"`
	Reason     string `cbor:"reason,omitempty" json:"reason,omitempty"`
}

// CredentialRetrieved records the single successful use of a token
type CredentialRetrieved struct {
	RequestID string `cbor:"request_id" json:"request_id"`
	AgentID   string `cbor:"agent_id" json:"agent_id"`
	VaultID   string `cbor:"vault_id" json:"vault_id"`
	Path      string `cbor:"path" json:"path"`
}

// CredentialRetrievalRejected records a token presentation that was refused.
// Reason is the error kind, which keeps replays distinct from expiries.
type CredentialRetrievalRejected struct {
	RequestID string `cbor:"request_id,omitempty" json:"request_id,omitempty"`
	AgentID   string `cbor:"agent_id" json:"agent_id"`
	Reason    string `cbor:"reason" json:"reason"`
	Detail    string `cbor:"detail,omitempty" json:"detail,omitempty"`
}

// CredentialTokenRevoked records a token invalidated before use
type CredentialTokenRevoked struct {
	RequestID string `cbor:"request_id" json:"request_id"`
	ActorID   string `cbor:"actor_id" json:"actor_id"`
}

// CredentialExpired records a pending request swept after its expiry
type CredentialExpired struct {
	RequestID string `cbor:"request_id" json:"request_id"`
	ExpiredAt int64  `cbor:"expired_at" json:"expired_at"`
}

// ReportFinalized records the content hash of a finalized report
type ReportFinalized struct {
	ReportID       string `cbor:"report_id" json:"report_id"`
	ContentHash    string `cbor:"content_hash" json:"content_hash"`
	PractitionerID string `cbor:"practitioner_id" json:"practitioner_id"`
	Signature      string `cbor:"signature,omitempty" json:"signature,omitempty"`
	FinalizedAt    int64  `cbor:"finalized_at" json:"finalized_at"`
}

// ReportSignatureRejected records a finalization refused because the
// practitioner signature could not be verified
type ReportSignatureRejected struct {
	ReportID       string `cbor:"report_id" json:"report_id"`
	ContentHash    string `cbor:"content_hash" json:"content_hash"`
	PractitionerID string `cbor:"practitioner_id" json:"practitioner_id"`
	Reason         string `cbor:"reason" json:"reason"`
}

func (CredentialRequested) EventType() EventType         { return TypeCredentialRequested }
func (CredentialApproved) EventType() EventType          { return TypeCredentialApproved }
func (CredentialApprovalRejected) EventType() EventType  { return TypeCredentialApprovalRejected }
func (CredentialDenied) EventType() EventType            { return TypeCredentialDenied }
func (CredentialRetrieved) EventType() EventType         { return TypeCredentialRetrieved }
func (CredentialRetrievalRejected) EventType() EventType { return TypeCredentialRetrievalRejected }
func (CredentialTokenRevoked) EventType() EventType      { return TypeCredentialTokenRevoked }
func (CredentialExpired) EventType() EventType           { return TypeCredentialExpired }
func (ReportFinalized) EventType() EventType             { return TypeReportFinalized }
func (ReportSignatureRejected) EventType() EventType     { return TypeReportSignatureRejected }

func (e CredentialRequested) SubjectID() string         { return e.RequestID }
func (e CredentialApproved) SubjectID() string          { return e.RequestID }
func (e CredentialApprovalRejected) SubjectID() string  { return e.RequestID }
func (e CredentialDenied) SubjectID() string            { return e.RequestID }
func (e CredentialRetrieved) SubjectID() string         { return e.RequestID }
func (e CredentialRetrievalRejected) SubjectID() string { return e.RequestID }
func (e CredentialTokenRevoked) SubjectID() string      { return e.RequestID }
func (e CredentialExpired) SubjectID() string           { return e.RequestID }
func (e ReportFinalized) SubjectID() string             { return e.ReportID }
func (e ReportSignatureRejected) SubjectID() string     { return e.ReportID }

func (CredentialRequested) isEvent()         {}
func (CredentialApproved) isEvent()          {}
func (CredentialApprovalRejected) isEvent()  {}
func (CredentialDenied) isEvent()            {}
func (CredentialRetrieved) isEvent()         {}
func (CredentialRetrievalRejected) isEvent() {}
func (CredentialTokenRevoked) isEvent()      {}
func (CredentialExpired) isEvent()           {}
func (ReportFinalized) isEvent()             {}
func (ReportSignatureRejected) isEvent()     {}

// envelope is what an entry's payload encodes. Every header field of the
// entry is repeated here so the hash covers it.
type envelope struct {
	Type    EventType        `cbor:"type"`
	Subject string           `cbor:"subject"`
	TxID    string           `cbor:"tx"`
	Time    int64            `cbor:"ts"` // unix nanoseconds
	Event   codec.RawMessage `cbor:"event"`
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var env envelope
	if err := codec.Unmarshal(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: ledger payload: %w", errs.ErrFormat, err)
	}
	return env, nil
}

// Decode returns the typed event stored in entry
func Decode(entry models.LedgerEntry) (Event, error) {
	env, err := decodeEnvelope(entry.Payload)
	if err != nil {
		return nil, err
	}

	var ev Event
	switch env.Type {
	case TypeCredentialRequested:
		ev, err = decodeBody[CredentialRequested](env.Event)
	case TypeCredentialApproved:
		ev, err = decodeBody[CredentialApproved](env.Event)
	case TypeCredentialApprovalRejected:
		ev, err = decodeBody[CredentialApprovalRejected](env.Event)
	case TypeCredentialDenied:
		ev, err = decodeBody[CredentialDenied](env.Event)
	case TypeCredentialRetrieved:
		ev, err = decodeBody[CredentialRetrieved](env.Event)
	case TypeCredentialRetrievalRejected:
		ev, err = decodeBody[CredentialRetrievalRejected](env.Event)
	case TypeCredentialTokenRevoked:
		ev, err = decodeBody[CredentialTokenRevoked](env.Event)
	case TypeCredentialExpired:
		ev, err = decodeBody[CredentialExpired](env.Event)
	case TypeReportFinalized:
		ev, err = decodeBody[ReportFinalized](env.Event)
	case TypeReportSignatureRejected:
		ev, err = decodeBody[ReportSignatureRejected](env.Event)
	default:
		return nil, fmt.Errorf("%w: unknown ledger event type %q", errs.ErrFormat, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeBody[T Event](raw codec.RawMessage) (Event, error) {
	var body T
	if err := codec.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: ledger event body: %w", errs.ErrFormat, err)
	}
	return body, nil
}
