// Package signature provides Ed25519 key handling, message signing and the
// canonical approval message shared by offline approvers and the server.
package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/adamscao/breakglass/pkg/sshutil"
)

// approvalTimeLayout fixes the timestamp precision of approval messages.
// Signer and verifier must format with the same layout.
const approvalTimeLayout = "2006-01-02T15:04:05Z"

// SignMessage signs message and returns the signature in standard base64
func SignMessage(key ed25519.PrivateKey, message string) string {
	sig := ed25519.Sign(key, []byte(message))
	return base64.StdEncoding.EncodeToString(sig)
}

// VerifySignature reports whether sig is a valid base64 signature of message
// by pub. Malformed keys or signatures yield false.
func VerifySignature(pub ed25519.PublicKey, message, sig string) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, []byte(message), raw)
}

// ApprovalMessage returns the canonical message an owner signs to approve a
// request: "{request_id} | {timestamp}" with the timestamp in UTC at second
// precision.
func ApprovalMessage(requestID string, approvedAt time.Time) string {
	return requestID + " | " + FormatApprovalTime(approvedAt)
}

// FormatApprovalTime formats t the way approval messages embed it
func FormatApprovalTime(t time.Time) string {
	return t.UTC().Format(approvalTimeLayout)
}

// ParseApprovalTime parses a timestamp produced by FormatApprovalTime. RFC
// 3339 input with an offset or fractional seconds is accepted and
// normalized, so the caller still reconstructs the message at second
// precision.
func ParseApprovalTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Second), nil
}

// SignedApproval is what an owner hands back after signing offline
type SignedApproval struct {
	RequestID  string `json:"request_id"`
	ApprovedAt string `json:"approved_at"`
	Signature  string `json:"signature"`
}

// SignApproval produces an approval for requestID at approvedAt
func SignApproval(key ed25519.PrivateKey, requestID string, approvedAt time.Time) SignedApproval {
	return SignedApproval{
		RequestID:  requestID,
		ApprovedAt: FormatApprovalTime(approvedAt),
		Signature:  SignMessage(key, ApprovalMessage(requestID, approvedAt)),
	}
}

// Fingerprint returns the OpenSSH SHA256 fingerprint of pub, or "" if pub
// is not a valid Ed25519 key.
func Fingerprint(pub ed25519.PublicKey) string {
	fp, err := sshutil.FingerprintKey(pub)
	if err != nil {
		return ""
	}
	return fp
}
