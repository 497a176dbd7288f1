package creds

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"automatic/internal/domain"
	"automatic/internal/security/secretbox"
)

func newBox(t *testing.T) *secretbox.Box {
	t.Helper()
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return box
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	store := NewFileStore(path, newBox(t))

	in := domain.Account{
		Username:     "operator",
		Sentry:       "sentry-abc",
		RenewalToken: "oauth-token-123",
		UpdatedAt:    time.Now().UTC(),
	}
	if err := store.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, ok, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("expected account to be present")
	}
	if out.Username != in.Username || out.Sentry != in.Sentry || out.RenewalToken != in.RenewalToken {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestTokenIsNotStoredInTheClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	store := NewFileStore(path, newBox(t))
	if err := store.Save(domain.Account{Username: "operator", RenewalToken: "super-secret"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(raw), "super-secret") {
		t.Fatal("renewal token leaked to disk in the clear")
	}
}

func TestLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "account.json"), nil)
	_, ok, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatal("expected absent account")
	}
}

func TestLoadWrongKeyKeepsAccountButReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	if err := NewFileStore(path, newBox(t)).Save(domain.Account{Username: "operator", RenewalToken: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	otherKey := make([]byte, 32)
	otherKey[0] = 1
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(otherKey))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	account, ok, err := NewFileStore(path, box).Load()
	if err == nil {
		t.Fatal("expected unseal error under wrong key")
	}
	if !ok {
		t.Fatal("account should still be reported present")
	}
	if account.Username != "operator" {
		t.Fatalf("expected username to survive, got %q", account.Username)
	}
	if account.RenewalToken != "" {
		t.Fatal("expected no renewal token under wrong key")
	}
}
