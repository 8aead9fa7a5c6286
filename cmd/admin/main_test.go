package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adamscao/breakglass/internal/api/handlers"
	"github.com/adamscao/breakglass/internal/app"
	"github.com/adamscao/breakglass/internal/config"
	"github.com/adamscao/breakglass/internal/credential"
	"github.com/adamscao/breakglass/internal/signature"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := fmt.Sprintf(`
database:
  path: %[1]s/breakglass.db
signing:
  private_key_path: %[1]s/signing.key
  public_key_path: %[1]s/signing.pub
  passphrase: service-pass
  scrypt_work_factor: 10
approvers:
  keys_dir: %[1]s/approvers
vault:
  root_dir: %[1]s/vault
admin:
  token: admin-secret
`, dir)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestKeygenAndFingerprint(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "owner-1")

	out, err := execute(t, "keygen", "--private", priv, "--passphrase", "pw", "--work-factor", "10")
	if err != nil {
		t.Fatalf("keygen error = %v", err)
	}
	if _, err := os.Stat(priv + ".pub"); err != nil {
		t.Fatalf("public key not written: %v", err)
	}

	fp, err := execute(t, "fingerprint", priv+".pub")
	if err != nil {
		t.Fatalf("fingerprint error = %v", err)
	}
	fp = strings.TrimSpace(fp)
	if !strings.HasPrefix(fp, "SHA256:") {
		t.Errorf("fingerprint = %q", fp)
	}
	if !strings.Contains(out, fp) {
		t.Errorf("keygen output %q does not contain fingerprint %s", out, fp)
	}

	if _, err := execute(t, "keygen", "--private", priv, "--passphrase", "pw"); err == nil {
		t.Error("keygen overwrote an existing key")
	}
}

func TestKeygenRequiresPassphrase(t *testing.T) {
	t.Setenv(passphraseEnv, "")
	_, err := execute(t, "keygen", "--private", filepath.Join(t.TempDir(), "k"))
	if err == nil || !strings.Contains(err.Error(), "passphrase") {
		t.Errorf("keygen without passphrase error = %v", err)
	}
}

func TestApprovalWorkflow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	ownerKey := filepath.Join(dir, "owner.key")

	if _, err := execute(t, "keygen", "--private", filepath.Join(dir, "signing.key"),
		"--public", filepath.Join(dir, "signing.pub"), "--passphrase", "service-pass", "--work-factor", "10"); err != nil {
		t.Fatalf("keygen signing key error = %v", err)
	}
	if _, err := execute(t, "keygen", "--private", ownerKey,
		"--public", filepath.Join(dir, "approvers", "owner-1.pub"), "--passphrase", "owner-pass", "--work-factor", "10"); err != nil {
		t.Fatalf("keygen owner key error = %v", err)
	}

	out, err := execute(t, "-c", cfgPath, "ledger", "verify")
	if err != nil {
		t.Fatalf("ledger verify error = %v", err)
	}
	if !strings.Contains(out, "Ledger valid: 0 entries") {
		t.Errorf("ledger verify output = %q", out)
	}

	ctx := context.Background()
	cfg, err := config.LoadWithEnv(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	a, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		t.Fatal(err)
	}
	req, err := a.Manager.CreateRequest(ctx, credential.CreateRequestInput{
		RequesterID: "dr-grey",
		Reason:      "stroke code",
		VaultID:     "pacs",
		Path:        "radiology/admin",
	})
	a.Close()
	if err != nil {
		t.Fatal(err)
	}

	out, err = execute(t, "sign-approval", "--key", ownerKey, "--passphrase", "owner-pass",
		"--request-id", req.ID, "--approver-id", "owner-1", "--ttl", "2m")
	if err != nil {
		t.Fatalf("sign-approval error = %v", err)
	}
	var body handlers.ApproveRequestBody
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("sign-approval output is not JSON: %v\n%s", err, out)
	}
	if body.ApproverID != "owner-1" || body.TTLSeconds != 120 {
		t.Errorf("approval body = %+v", body)
	}

	a, err = app.Open(ctx, cfg, app.Options{})
	if err != nil {
		t.Fatal(err)
	}
	approvedAt, err := signature.ParseApprovalTime(body.ApprovedAt)
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Manager.Approve(ctx, credential.ApproveInput{
		RequestID:  req.ID,
		ApproverID: body.ApproverID,
		Signature:  body.Signature,
		ApprovedAt: approvedAt,
	})
	a.Close()
	if err != nil {
		t.Fatalf("Approve() with CLI signature error = %v", err)
	}

	out, err = execute(t, "-c", cfgPath, "requests", "list", "--status", "approved")
	if err != nil {
		t.Fatalf("requests list error = %v", err)
	}
	if !strings.Contains(out, req.ID) {
		t.Errorf("requests list output missing %s:\n%s", req.ID, out)
	}
	out, err = execute(t, "-c", cfgPath, "requests", "list", "--open")
	if err != nil {
		t.Fatalf("requests list --open error = %v", err)
	}
	if !strings.Contains(out, req.ID) {
		t.Errorf("requests list --open output missing approved %s:\n%s", req.ID, out)
	}

	if _, err := execute(t, "-c", cfgPath, "requests", "revoke", req.ID, "--actor-id", "ops"); err != nil {
		t.Fatalf("requests revoke error = %v", err)
	}

	out, err = execute(t, "-c", cfgPath, "ledger", "list", "--subject", req.ID)
	if err != nil {
		t.Fatalf("ledger list error = %v", err)
	}
	for _, want := range []string{"CREDENTIAL_REQUEST", "CREDENTIAL_APPROVED", "CREDENTIAL_TOKEN_REVOKED"} {
		if !strings.Contains(out, want) {
			t.Errorf("ledger list output missing %s:\n%s", want, out)
		}
	}

	export := filepath.Join(dir, "export.jsonl")
	out, err = execute(t, "-c", cfgPath, "ledger", "export", "-o", export)
	if err != nil {
		t.Fatalf("ledger export error = %v", err)
	}
	if !strings.Contains(out, "Exported 3 entries") {
		t.Errorf("ledger export output = %q", out)
	}
}
