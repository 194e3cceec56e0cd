package vaultkeeper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mike-north/vaultkeeper-sub000/backend"
	"github.com/mike-north/vaultkeeper-sub000/backend/memory"
	"github.com/mike-north/vaultkeeper-sub000/internal/delegated"
	"github.com/mike-north/vaultkeeper-sub000/internal/tokencodec"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

func execEchoRequest() delegated.ExecRequest {
	return delegated.ExecRequest{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo token={{secret}}"},
	}
}

func newTestVault(t *testing.T) (*Vault, *memory.Backend) {
	t.Helper()
	dir := t.TempDir()

	registry := backend.NewRegistry()
	registry.Register("memory", memory.Factory)

	cfg := &Config{
		Version:     1,
		Backends:    []BackendEntry{{Type: "memory", Enabled: true}},
		KeyRotation: KeyRotationConf{GracePeriodDays: 1},
		Defaults:    DefaultsConf{TTLMinutes: 5, TrustTier: 3},
	}

	v := New(cfg, registry, Options{TrustManifestPath: filepath.Join(dir, "trust-manifest.json")})
	if err := v.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	mb, ok := v.activeBackend.(*memory.Backend)
	if !ok {
		t.Fatalf("expected active backend to be *memory.Backend, got %T", v.activeBackend)
	}
	return v, mb
}

// E1: setup -> authorize -> read.
func TestE1SetupAuthorizeRead(t *testing.T) {
	v, mb := newTestVault(t)
	mb.Store(context.Background(), "api-key", "sk-live-abc")

	token, err := v.Setup(context.Background(), "api-key", SetupOptions{ExecutablePath: "dev"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	res, err := v.Authorize(token)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.KeyStatus != "current" {
		t.Fatalf("expected key status current, got %s", res.KeyStatus)
	}
	if res.RotatedToken != "" {
		t.Fatalf("expected no rotated token on first authorize")
	}

	accessor, err := v.GetSecret(res.Token)
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}

	var got string
	if err := accessor.Read(func(buf []byte) { got = string(buf) }); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "sk-live-abc" {
		t.Fatalf("got %q want sk-live-abc", got)
	}

	if err := accessor.Read(func([]byte) {}); err == nil {
		t.Fatalf("expected accessor to be unusable after first read")
	}
}

// E2: rotation round-trip.
func TestE2RotationRoundTrip(t *testing.T) {
	v, mb := newTestVault(t)
	mb.Store(context.Background(), "api-key", "sk-live-abc")

	token, err := v.Setup(context.Background(), "api-key", SetupOptions{ExecutablePath: "dev"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if err := v.RotateKey(); err != nil {
		t.Fatalf("RotateKey: %v", err)
	}

	res, err := v.Authorize(token)
	if err != nil {
		t.Fatalf("Authorize after rotation: %v", err)
	}
	if res.KeyStatus != "previous" {
		t.Fatalf("expected key status previous, got %s", res.KeyStatus)
	}
	if res.RotatedToken == "" {
		t.Fatalf("expected non-empty rotated token")
	}

	rotatedRes, err := v.Authorize(res.RotatedToken)
	if err != nil {
		t.Fatalf("Authorize rotated token: %v", err)
	}
	if rotatedRes.KeyStatus != "current" {
		t.Fatalf("expected rotated token to authorize as current, got %s", rotatedRes.KeyStatus)
	}
}

// E3: revocation.
func TestE3Revocation(t *testing.T) {
	v, mb := newTestVault(t)
	mb.Store(context.Background(), "api-key", "sk-live-abc")

	token, err := v.Setup(context.Background(), "api-key", SetupOptions{ExecutablePath: "dev"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if err := v.RevokeKey(); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	if _, err := v.Authorize(token); err == nil {
		t.Fatalf("expected authorize of token under revoked key to fail")
	}

	newToken, err := v.Setup(context.Background(), "api-key", SetupOptions{ExecutablePath: "dev"})
	if err != nil {
		t.Fatalf("expected new setup to succeed immediately after revoke: %v", err)
	}
	if _, err := v.Authorize(newToken); err != nil {
		t.Fatalf("expected new token to authorize: %v", err)
	}
}

// E4: usage budget.
func TestE4UsageBudget(t *testing.T) {
	v, mb := newTestVault(t)
	mb.Store(context.Background(), "s", "value")

	token, err := v.Setup(context.Background(), "s", SetupOptions{ExecutablePath: "dev", UseLimit: 2})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if _, err := v.Authorize(token); err != nil {
		t.Fatalf("first authorize: %v", err)
	}
	if _, err := v.Authorize(token); err != nil {
		t.Fatalf("second authorize (should still succeed, reaches budget): %v", err)
	}
	_, err = v.Authorize(token)
	if _, ok := err.(*vaulterrors.TokenRevoked); !ok {
		t.Fatalf("expected third authorize to fail *vaulterrors.TokenRevoked, got %T (%v)", err, err)
	}
}

// Without a search index configured, List falls back to the active
// backend's own Listable.List().
func TestListFallsBackToBackendWithoutSearchIndex(t *testing.T) {
	v, mb := newTestVault(t)
	mb.Store(context.Background(), "a", "1")
	mb.Store(context.Background(), "b", "2")

	names, err := v.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
}

// A kid-less token encrypted under the grace-period previous key must
// still authorize by falling back from current to previous, per
// spec.md's authorize step 2 ("try current, else previous").
func TestAuthorizeNoKidFallsBackToPreviousKey(t *testing.T) {
	v, _ := newTestVault(t)

	previousBeforeRotate, err := v.keys.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	if err := v.RotateKey(); err != nil {
		t.Fatalf("RotateKey: %v", err)
	}

	now := time.Now()
	claims := tokencodec.Claims{
		JTI: uuid.New().String(),
		IAT: now.Unix(),
		EXP: now.Add(5 * time.Minute).Unix(),
		Sub: "s",
		Exe: "dev",
		Use: tokencodec.UnlimitedUse,
		TID: 3,
		Bkd: "memory",
		Val: "plain-secret",
		Ref: "s",
	}
	noKidToken, err := tokencodec.Encrypt(previousBeforeRotate.Bytes, "", claims)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	res, err := v.Authorize(noKidToken)
	if err != nil {
		t.Fatalf("expected kid-less token under previous key to authorize, got: %v", err)
	}
	if res.KeyStatus != "previous" {
		t.Fatalf("expected key status previous, got %s", res.KeyStatus)
	}
	if res.RotatedToken == "" {
		t.Fatalf("expected a rotated token to be issued")
	}
}

// A kid-less token that fails to decrypt under both current and
// previous keys must report DecryptionFailed, not silently retry the
// same key twice.
func TestAuthorizeNoKidFailsWhenNeitherKeyDecrypts(t *testing.T) {
	v, _ := newTestVault(t)

	garbageKey := make([]byte, 32)
	now := time.Now()
	claims := tokencodec.Claims{
		JTI: uuid.New().String(),
		IAT: now.Unix(),
		EXP: now.Add(5 * time.Minute).Unix(),
		Sub: "s",
		Exe: "dev",
		Use: tokencodec.UnlimitedUse,
		TID: 3,
		Bkd: "memory",
		Val: "plain-secret",
		Ref: "s",
	}
	noKidToken, err := tokencodec.Encrypt(garbageKey, "", claims)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	_, err = v.Authorize(noKidToken)
	if _, ok := err.(*vaulterrors.DecryptionFailed); !ok {
		t.Fatalf("expected *vaulterrors.DecryptionFailed, got %T (%v)", err, err)
	}
}

// E6: redactor boundary, exercised at the delegated.Exec layer since
// that's where the vault applies the redactor to captured output.
func TestE6RedactorAppliedAcrossExecOutput(t *testing.T) {
	v, mb := newTestVault(t)
	mb.Store(context.Background(), "s", "my-secret-value")

	token, err := v.Setup(context.Background(), "s", SetupOptions{ExecutablePath: "dev"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	res, err := v.Authorize(token)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	out, err := v.Exec(context.Background(), res.Token, execEchoRequest())
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if containsSubstring(out.Stdout, "my-secret-value") {
		t.Fatalf("expected secret to be redacted from exec stdout, got %q", out.Stdout)
	}
}

func containsSubstring(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
