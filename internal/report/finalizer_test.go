package report

import (
	"context"
	"crypto/ed25519"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/adamscao/breakglass/internal/clock"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/ledger"
	"github.com/adamscao/breakglass/internal/models"
	"github.com/adamscao/breakglass/internal/signature"
)

// tamperStore corrupts stored hashes on read once tampered is set.
type tamperStore struct {
	*ledger.MemoryStore
	tampered bool
}

func (s *tamperStore) Entries(ctx context.Context, q ledger.Query) ([]models.LedgerEntry, error) {
	entries, err := s.MemoryStore.Entries(ctx, q)
	if err != nil || !s.tampered {
		return entries, err
	}
	for i := range entries {
		entries[i].Hash = flipFirst(entries[i].Hash)
	}
	return entries, nil
}

func flipFirst(h string) string {
	if h[0] == '0' {
		return "1" + h[1:]
	}
	return "0" + h[1:]
}

func newTestFinalizer(t *testing.T, store ledger.Store, opts ...Option) (*Finalizer, *ledger.Ledger) {
	t.Helper()
	fc := clock.Fake(time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC))
	l, err := ledger.Open(context.Background(), store, ledger.WithClock(fc))
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	return NewFinalizer(l, append([]Option{WithClock(fc)}, opts...)...), l
}

func TestComputeContentHashOrderIndependent(t *testing.T) {
	a := map[string]any{
		"patient_id": "PAT-123",
		"findings":   "No abnormalities detected",
		"measurements": map[string]any{
			"width":  12.5,
			"height": 3,
		},
	}
	b := map[string]any{
		"measurements": map[string]any{
			"height": 3,
			"width":  12.5,
		},
		"findings":   "No abnormalities detected",
		"patient_id": "PAT-123",
	}

	ha, err := ComputeContentHash(a)
	if err != nil {
		t.Fatalf("ComputeContentHash() error = %v", err)
	}
	hb, err := ComputeContentHash(b)
	if err != nil {
		t.Fatalf("ComputeContentHash() error = %v", err)
	}
	if ha != hb {
		t.Fatalf("hash depends on key order: %s != %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(ha))
	}

	b["findings"] = "No abnormalities detected."
	hc, _ := ComputeContentHash(b)
	if hc == ha {
		t.Fatal("hash unchanged after a field value changed")
	}
}

func TestComputeContentHashKnownValue(t *testing.T) {
	// sha256(`{"finding":"normal"}`)
	const want = "1d9b9f7228e60743a647909f834b8af1a6825a5702e9afbbe69336a2d8ebafbf"
	got, err := ComputeContentHash(map[string]any{"finding": "normal"})
	if err != nil {
		t.Fatalf("ComputeContentHash() error = %v", err)
	}
	if got != want {
		t.Fatalf("ComputeContentHash() = %s, want %s", got, want)
	}
}

func TestComputeContentHashRejectsUnserializable(t *testing.T) {
	_, err := ComputeContentHash(map[string]any{"value": math.NaN()})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("ComputeContentHash(NaN) error = %v, want ErrValidation", err)
	}
}

func TestFinalizeAndVerify(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFinalizer(t, ledger.NewMemoryStore())

	content := map[string]any{"finding": "normal", "study_id": "STUDY-456"}
	stamp, err := f.FinalizeReport(ctx, "RPT-1", content, "dr-house", "")
	if err != nil {
		t.Fatalf("FinalizeReport() error = %v", err)
	}
	if stamp.LedgerTxID == "" || stamp.LedgerSequence != 1 {
		t.Fatalf("stamp ledger reference = %q/%d", stamp.LedgerTxID, stamp.LedgerSequence)
	}
	if want, _ := ComputeContentHash(content); stamp.ContentHash != want {
		t.Fatalf("stamp.ContentHash = %s, want %s", stamp.ContentHash, want)
	}

	ok, err := f.VerifyReportStamp(ctx, "RPT-1", content, stamp)
	if err != nil || !ok {
		t.Fatalf("VerifyReportStamp() = %v, %v; want true", ok, err)
	}
}

func TestVerifyDetectsChangedFinding(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFinalizer(t, ledger.NewMemoryStore())

	stamp, err := f.FinalizeReport(ctx, "RPT-1", map[string]any{"finding": "normal"}, "dr-house", "")
	if err != nil {
		t.Fatalf("FinalizeReport() error = %v", err)
	}
	ok, err := f.VerifyReportStamp(ctx, "RPT-1", map[string]any{"finding": "abnormal"}, stamp)
	if err != nil {
		t.Fatalf("VerifyReportStamp() error = %v", err)
	}
	if ok {
		t.Fatal("VerifyReportStamp() accepted altered content")
	}
}

func TestVerifyStampMismatches(t *testing.T) {
	ctx := context.Background()
	f, l := newTestFinalizer(t, ledger.NewMemoryStore())
	content := map[string]any{"finding": "normal"}

	stamp, err := f.FinalizeReport(ctx, "RPT-1", content, "dr-house", "")
	if err != nil {
		t.Fatalf("FinalizeReport() error = %v", err)
	}
	other, err := l.Append(ctx, ledger.CredentialDenied{RequestID: "REQ-1", ApproverID: "owner"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	tests := []struct {
		name     string
		reportID string
		mutate   func(s *models.ReportAuditStamp)
	}{
		{"different report id", "RPT-2", func(*models.ReportAuditStamp) {}},
		{"unknown ledger tx", "RPT-1", func(s *models.ReportAuditStamp) { s.LedgerTxID = "no-such-tx" }},
		{"tx of another event", "RPT-1", func(s *models.ReportAuditStamp) {
			s.LedgerTxID = other.TransactionID
			s.LedgerSequence = other.Sequence
		}},
		{"wrong sequence", "RPT-1", func(s *models.ReportAuditStamp) { s.LedgerSequence = 9 }},
		{"forged hash", "RPT-1", func(s *models.ReportAuditStamp) {
			s.ContentHash = flipFirst(s.ContentHash)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := *stamp
			tt.mutate(&s)
			ok, err := f.VerifyReportStamp(ctx, tt.reportID, content, &s)
			if err != nil {
				t.Fatalf("VerifyReportStamp() error = %v", err)
			}
			if ok {
				t.Fatal("VerifyReportStamp() = true, want false")
			}
		})
	}
}

func TestVerifyFailsOnBrokenLedger(t *testing.T) {
	ctx := context.Background()
	store := &tamperStore{MemoryStore: ledger.NewMemoryStore()}
	f, l := newTestFinalizer(t, store)
	content := map[string]any{"finding": "normal"}

	stamp, err := f.FinalizeReport(ctx, "RPT-1", content, "dr-house", "")
	if err != nil {
		t.Fatalf("FinalizeReport() error = %v", err)
	}
	store.tampered = true
	if res, err := l.VerifyChain(ctx); err != nil || res.Valid {
		t.Fatalf("VerifyChain() = %+v, %v; want invalid", res, err)
	}

	ok, err := f.VerifyReportStamp(ctx, "RPT-1", content, stamp)
	if ok || !errors.Is(err, errs.ErrIntegrity) {
		t.Fatalf("VerifyReportStamp() = %v, %v; want false, ErrIntegrity", ok, err)
	}
	if _, err := f.FinalizeReport(ctx, "RPT-2", content, "dr-house", ""); !errors.Is(err, errs.ErrIntegrity) {
		t.Fatalf("FinalizeReport() on broken ledger error = %v, want ErrIntegrity", err)
	}
}

func TestFinalizeValidation(t *testing.T) {
	ctx := context.Background()
	f, l := newTestFinalizer(t, ledger.NewMemoryStore())

	tests := []struct {
		name         string
		reportID     string
		content      map[string]any
		practitioner string
	}{
		{"missing report id", "", map[string]any{"a": 1}, "dr"},
		{"nil content", "RPT-1", nil, "dr"},
		{"empty content", "RPT-1", map[string]any{}, "dr"},
		{"missing practitioner", "RPT-1", map[string]any{"a": 1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.FinalizeReport(ctx, tt.reportID, tt.content, tt.practitioner, "")
			if !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("FinalizeReport() error = %v, want ErrValidation", err)
			}
		})
	}
	if seq, _ := l.Head(); seq != 0 {
		t.Fatalf("rejected finalizations appended %d entries", seq)
	}
}

func TestSignedFinalization(t *testing.T) {
	ctx := context.Background()
	priv, pub, err := signature.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	keys := signature.NewStaticKeys(map[string]ed25519.PublicKey{"dr-house": pub})
	f, _ := newTestFinalizer(t, ledger.NewMemoryStore(), WithSignerKeys(keys))

	content := map[string]any{"finding": "normal"}
	hash, _ := ComputeContentHash(content)
	sig := signature.SignMessage(priv, SignatureMessage("RPT-1", hash))

	stamp, err := f.FinalizeReport(ctx, "RPT-1", content, "dr-house", sig)
	if err != nil {
		t.Fatalf("FinalizeReport() error = %v", err)
	}
	if !VerifyStampSignature(pub, stamp) {
		t.Fatal("VerifyStampSignature() = false for a genuine signature")
	}

	forged := *stamp
	forged.ContentHash = flipFirst(forged.ContentHash)
	if VerifyStampSignature(pub, &forged) {
		t.Fatal("VerifyStampSignature() accepted a stamp with a changed hash")
	}

	if _, err := f.FinalizeReport(ctx, "RPT-2", content, "dr-house", sig); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("FinalizeReport() with signature for another report error = %v, want ErrAuthentication", err)
	}
	if _, err := f.FinalizeReport(ctx, "RPT-3", content, "dr-unknown", sig); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("FinalizeReport() by unknown practitioner error = %v, want ErrAuthentication", err)
	}
}

func TestRejectedSignatureIsRecorded(t *testing.T) {
	ctx := context.Background()
	priv, pub, err := signature.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	keys := signature.NewStaticKeys(map[string]ed25519.PublicKey{"dr-house": pub})
	f, l := newTestFinalizer(t, ledger.NewMemoryStore(), WithSignerKeys(keys))

	content := map[string]any{"finding": "normal"}
	hash, _ := ComputeContentHash(content)
	otherReport := signature.SignMessage(priv, SignatureMessage("RPT-9", hash))

	tests := []struct {
		reportID     string
		practitioner string
	}{
		{"RPT-1", "dr-house"},
		{"RPT-2", "dr-unknown"},
	}
	for _, tt := range tests {
		if _, err := f.FinalizeReport(ctx, tt.reportID, content, tt.practitioner, otherReport); !errors.Is(err, errs.ErrAuthentication) {
			t.Fatalf("FinalizeReport(%s) error = %v, want ErrAuthentication", tt.reportID, err)
		}
		trail, err := f.GetAuditTrail(ctx, tt.reportID)
		if err != nil {
			t.Fatalf("GetAuditTrail() error = %v", err)
		}
		if len(trail) != 1 {
			t.Fatalf("GetAuditTrail(%s) has %d entries, want 1", tt.reportID, len(trail))
		}
		ev, err := ledger.Decode(trail[0])
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		rej, ok := ev.(ledger.ReportSignatureRejected)
		if !ok || rej.PractitionerID != tt.practitioner || rej.ContentHash != hash || rej.Reason != "authentication" {
			t.Fatalf("ledger event = %+v, want signature rejection", ev)
		}
	}

	if seq, _ := l.Head(); seq != 2 {
		t.Fatalf("ledger head = %d, want 2", seq)
	}
	if res, err := l.VerifyChain(ctx); err != nil || !res.Valid {
		t.Fatalf("VerifyChain() = %+v, %v", res, err)
	}
}

func TestGetAuditTrail(t *testing.T) {
	ctx := context.Background()
	f, l := newTestFinalizer(t, ledger.NewMemoryStore())

	if _, err := f.FinalizeReport(ctx, "RPT-1", map[string]any{"v": 1}, "dr", ""); err != nil {
		t.Fatalf("FinalizeReport() error = %v", err)
	}
	if _, err := l.Append(ctx, ledger.CredentialDenied{RequestID: "REQ-1", ApproverID: "owner"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := f.FinalizeReport(ctx, "RPT-1", map[string]any{"v": 2}, "dr", ""); err != nil {
		t.Fatalf("FinalizeReport() error = %v", err)
	}

	trail, err := f.GetAuditTrail(ctx, "RPT-1")
	if err != nil {
		t.Fatalf("GetAuditTrail() error = %v", err)
	}
	if len(trail) != 2 || trail[0].Sequence != 1 || trail[1].Sequence != 3 {
		t.Fatalf("GetAuditTrail() = %d entries, want sequences 1 and 3", len(trail))
	}
}
