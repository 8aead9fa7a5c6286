package credential

import (
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/ledger"
	"github.com/adamscao/breakglass/internal/models"
	"github.com/adamscao/breakglass/internal/signature"
)

func hasEvent(evs []ledger.Event, typ ledger.EventType) bool {
	for _, ev := range evs {
		if ev.EventType() == typ {
			return true
		}
	}
	return false
}

func TestApproveNotRecordedLeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, false)

	f.entries.fail.Store(true)
	if _, err := f.mgr.Approve(ctx, f.signedInput(req.ID, 0)); err == nil {
		t.Fatal("Approve() error = nil with a failing ledger")
	}
	f.entries.fail.Store(false)

	got, err := f.mgr.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
	if _, err := f.mgr.GetApproval(ctx, req.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("GetApproval() error = %v, want ErrNotFound", err)
	}
	if hasEvent(f.trail(t, req.ID), ledger.TypeCredentialApproved) {
		t.Fatal("ledger holds an approval that failed")
	}

	bundle := f.approve(t, req.ID, 0)
	if _, err := f.mgr.Retrieve(ctx, "agent-7", bundle.Token); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
}

func TestRetrieveNotRecordedReturnsNoSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, true)
	bundle := f.approve(t, req.ID, 0)

	f.entries.fail.Store(true)
	ret, err := f.mgr.Retrieve(ctx, "agent-7", bundle.Token)
	f.entries.fail.Store(false)
	if err == nil || ret != nil {
		t.Fatalf("Retrieve() = %+v, %v, want error and no secret", ret, err)
	}
	if n := f.vault.calls.Load(); n != 1 {
		t.Fatalf("vault calls = %d, want 1", n)
	}

	got, _ := f.mgr.GetRequest(ctx, req.ID)
	if got.Status != models.StatusApproved {
		t.Fatalf("Status = %s, want approved", got.Status)
	}
	if hasEvent(f.trail(t, req.ID), ledger.TypeCredentialRetrieved) {
		t.Fatal("ledger holds a retrieval that failed")
	}

	if _, err := f.mgr.Retrieve(ctx, "agent-7", bundle.Token); !errors.Is(err, errs.ErrReplay) {
		t.Fatalf("second Retrieve() error = %v, want ErrReplay", err)
	}
}

func TestDenyNotRecordedLeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, false)

	f.entries.fail.Store(true)
	if err := f.mgr.Deny(ctx, req.ID, ownerID, "no"); err == nil {
		t.Fatal("Deny() error = nil with a failing ledger")
	}
	f.entries.fail.Store(false)

	if got, _ := f.mgr.GetRequest(ctx, req.ID); got.Status != models.StatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
	if err := f.mgr.Deny(ctx, req.ID, ownerID, "no"); err != nil {
		t.Fatalf("Deny() after recovery error = %v", err)
	}
}

func TestExpireNotRecordedLeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, true)
	f.clock.Advance(10 * time.Minute)

	f.entries.fail.Store(true)
	if _, err := f.mgr.ExpireStale(ctx); err == nil {
		t.Fatal("ExpireStale() error = nil with a failing ledger")
	}
	f.entries.fail.Store(false)

	if got, _ := f.store.GetRequest(ctx, req.ID); got.Status != models.StatusPending {
		t.Fatalf("stored status = %s, want pending", got.Status)
	}
	n, err := f.mgr.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ExpireStale() = %d, want 1", n)
	}
}

func TestBrokenLedgerRefusesBeforeStateChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.create(t, false)
	approved := f.create(t, false)
	bundle := f.approve(t, approved.ID, 0)

	f.entries.rewound.Store(true)

	if _, err := f.mgr.Approve(ctx, f.signedInput(pending.ID, 0)); !errors.Is(err, errs.ErrIntegrity) {
		t.Fatalf("Approve() error = %v, want ErrIntegrity", err)
	}
	if err := f.mgr.Deny(ctx, pending.ID, ownerID, "no"); !errors.Is(err, errs.ErrIntegrity) {
		t.Fatalf("Deny() error = %v, want ErrIntegrity", err)
	}
	if _, err := f.mgr.Retrieve(ctx, "agent-7", bundle.Token); !errors.Is(err, errs.ErrIntegrity) {
		t.Fatalf("Retrieve() error = %v, want ErrIntegrity", err)
	}
	if err := f.mgr.RevokeToken(ctx, approved.ID, ownerID); !errors.Is(err, errs.ErrIntegrity) {
		t.Fatalf("RevokeToken() error = %v, want ErrIntegrity", err)
	}
	if _, err := f.mgr.ExpireStale(ctx); !errors.Is(err, errs.ErrIntegrity) {
		t.Fatalf("ExpireStale() error = %v, want ErrIntegrity", err)
	}

	if n := f.vault.calls.Load(); n != 0 {
		t.Fatalf("vault calls = %d, want 0", n)
	}
	if got, _ := f.store.GetRequest(ctx, pending.ID); got.Status != models.StatusPending {
		t.Fatalf("pending request status = %s", got.Status)
	}
	if got, _ := f.store.GetRequest(ctx, approved.ID); got.Status != models.StatusApproved {
		t.Fatalf("approved request status = %s", got.Status)
	}
	if used, err := f.nonces.IsUsed(ctx, bundle.Nonce); err != nil || used {
		t.Fatalf("IsUsed() = %v, %v, want unused token", used, err)
	}
}

func TestApproveRejectsUnreadableApproverKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, false)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mallory.pub"), []byte("not a key\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mgr := NewManager(f.store, f.issuer, f.ledger, signature.NewDirKeys(dir), f.vault, WithClock(f.clock))

	in := f.signedInput(req.ID, 0)
	in.ApproverID = "mallory"
	if _, err := mgr.Approve(ctx, in); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("Approve() error = %v, want ErrAuthentication", err)
	}
	rej, ok := f.lastEvent(t, req.ID).(ledger.CredentialApprovalRejected)
	if !ok || rej.ApproverID != "mallory" || rej.Reason != "authentication" {
		t.Fatalf("last ledger event = %+v, want approval rejection", f.lastEvent(t, req.ID))
	}
}

func TestApproveKeyLookupCanceled(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, false)
	mgr := NewManager(f.store, f.issuer, f.ledger, cancelingKeys{}, f.vault, WithClock(f.clock))

	if _, err := mgr.Approve(context.Background(), f.signedInput(req.ID, 0)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Approve() error = %v, want context.Canceled", err)
	}
	if _, ok := f.lastEvent(t, req.ID).(ledger.CredentialRequested); !ok {
		t.Fatalf("last ledger event = %+v, want no rejection", f.lastEvent(t, req.ID))
	}
}

type cancelingKeys struct{}

func (cancelingKeys) PublicKey(context.Context, string) (ed25519.PublicKey, error) {
	return nil, context.Canceled
}
