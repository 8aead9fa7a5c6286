package signature

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adamscao/breakglass/internal/errs"
)

// Low scrypt cost keeps the key file tests fast.
const testWorkFactor = 10

func TestSignAndVerify(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	message := "REQ-20260101-120000-abcdef012345 | 2026-01-01T12:00:00Z"
	sig := SignMessage(priv, message)

	if !VerifySignature(pub, message, sig) {
		t.Fatal("VerifySignature() = false for a valid signature")
	}
}

func TestVerifySignatureBitFlips(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	message := "approve this"
	sig := SignMessage(priv, message)

	msgBytes := []byte(message)
	for i := range msgBytes {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), msgBytes...)
			flipped[i] ^= 1 << bit
			if VerifySignature(pub, string(flipped), sig) {
				t.Fatalf("VerifySignature() = true with message byte %d bit %d flipped", i, bit)
			}
		}
	}

	rawSig, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	for i := range rawSig {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), rawSig...)
			flipped[i] ^= 1 << bit
			if VerifySignature(pub, message, base64.StdEncoding.EncodeToString(flipped)) {
				t.Fatalf("VerifySignature() = true with signature byte %d bit %d flipped", i, bit)
			}
		}
	}
}

func TestVerifySignatureMalformedInput(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	tests := []struct {
		name string
		pub  ed25519.PublicKey
		sig  string
	}{
		{"not base64", pub, "%%%not-base64%%%"},
		{"short signature", pub, base64.StdEncoding.EncodeToString([]byte("short"))},
		{"empty signature", pub, ""},
		{"nil key", nil, base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(tt.pub, "message", tt.sig) {
				t.Fatal("VerifySignature() = true, want false")
			}
		})
	}
}

func TestApprovalMessageCanonical(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("CET", 3600))

	got := ApprovalMessage("REQ-1", at)
	want := "REQ-1 | 2026-03-04T04:06:07Z"
	if got != want {
		t.Fatalf("ApprovalMessage() = %q, want %q", got, want)
	}

	parsed, err := ParseApprovalTime("2026-03-04T05:06:07.5+01:00")
	if err != nil {
		t.Fatalf("ParseApprovalTime() error = %v", err)
	}
	if ApprovalMessage("REQ-1", parsed) != want {
		t.Fatalf("ApprovalMessage(parsed) = %q, want %q", ApprovalMessage("REQ-1", parsed), want)
	}
}

func TestSignApprovalVerifies(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	approval := SignApproval(priv, "REQ-42", at)

	parsed, err := ParseApprovalTime(approval.ApprovedAt)
	if err != nil {
		t.Fatalf("ParseApprovalTime() error = %v", err)
	}
	if !VerifySignature(pub, ApprovalMessage(approval.RequestID, parsed), approval.Signature) {
		t.Fatal("approval signature does not verify")
	}
	if VerifySignature(pub, ApprovalMessage("REQ-43", parsed), approval.Signature) {
		t.Fatal("approval signature verifies for a different request")
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "signing.key")
	ks := NewKeyStore(testWorkFactor)

	priv, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if err := ks.SavePrivateKey(priv, path, "correct horse"); err != nil {
		t.Fatalf("SavePrivateKey() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("private key mode = %o, want 0600", perm)
	}

	loaded, err := ks.LoadPrivateKey(path, "correct horse")
	if err != nil {
		t.Fatalf("LoadPrivateKey() error = %v", err)
	}
	if !priv.Equal(loaded) {
		t.Fatal("loaded private key differs from saved key")
	}
}

func TestLoadPrivateKeyFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.key")
	ks := NewKeyStore(testWorkFactor)

	priv, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if err := ks.SavePrivateKey(priv, path, "right"); err != nil {
		t.Fatalf("SavePrivateKey() error = %v", err)
	}

	if _, err := ks.LoadPrivateKey(path, "wrong"); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("LoadPrivateKey(wrong passphrase) error = %v, want ErrAuthentication", err)
	}
	if _, err := ks.LoadPrivateKey(filepath.Join(dir, "missing.key"), "right"); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("LoadPrivateKey(missing file) error = %v, want ErrAuthentication", err)
	}
}

func TestSavePrivateKeyRequiresPassphrase(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	err = NewKeyStore(testWorkFactor).SavePrivateKey(priv, filepath.Join(t.TempDir(), "k"), "")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("SavePrivateKey(empty passphrase) error = %v, want ErrValidation", err)
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pub")

	_, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if err := SavePublicKey(pub, path); err != nil {
		t.Fatalf("SavePublicKey() error = %v", err)
	}
	loaded, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("LoadPublicKey() error = %v", err)
	}
	if !pub.Equal(loaded) {
		t.Fatal("loaded public key differs from saved key")
	}
}

func TestLoadOrGenerate(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "signing.key")
	pubPath := filepath.Join(dir, "signing.pub")
	ks := NewKeyStore(testWorkFactor)

	first, generated, err := ks.LoadOrGenerate(privPath, pubPath, "pass")
	if err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}
	if !generated {
		t.Fatal("LoadOrGenerate() generated = false on first call")
	}

	second, generated, err := ks.LoadOrGenerate(privPath, pubPath, "pass")
	if err != nil {
		t.Fatalf("LoadOrGenerate() second call error = %v", err)
	}
	if generated {
		t.Fatal("LoadOrGenerate() generated = true on second call")
	}
	if !first.PublicKey.Equal(second.PublicKey) {
		t.Fatal("reloaded key pair differs")
	}

	if _, _, err := ks.LoadOrGenerate(privPath, pubPath, "other"); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("LoadOrGenerate(wrong passphrase) error = %v, want ErrAuthentication", err)
	}
}

func TestDirKeys(t *testing.T) {
	dir := t.TempDir()
	_, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if err := SavePublicKey(pub, filepath.Join(dir, "dr-house.pub")); err != nil {
		t.Fatalf("SavePublicKey() error = %v", err)
	}

	keys := NewDirKeys(dir)
	ctx := context.Background()

	got, err := keys.PublicKey(ctx, "dr-house")
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	if !pub.Equal(got) {
		t.Fatal("PublicKey() returned a different key")
	}

	if _, err := keys.PublicKey(ctx, "dr-wilson"); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("PublicKey(unknown) error = %v, want ErrAuthentication", err)
	}
	for _, id := range []string{"../etc/passwd", "a/b", "", ".."} {
		if _, err := keys.PublicKey(ctx, id); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("PublicKey(%q) error = %v, want ErrValidation", id, err)
		}
	}
}

func TestFingerprint(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	fp := Fingerprint(pub)
	if len(fp) < len("SHA256:") || fp[:7] != "SHA256:" {
		t.Fatalf("Fingerprint() = %q, want SHA256: prefix", fp)
	}
	if Fingerprint(nil) != "" {
		t.Fatal("Fingerprint(nil) should be empty")
	}
}
