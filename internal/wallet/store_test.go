package wallet

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadKey_ReadsValidKeyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.key")
	if err := os.WriteFile(path, []byte(testKey+"\n"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	got, err := LoadKey(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != testKey {
		t.Errorf("expected %s, got %s", testKey, got)
	}
}

func TestLoadKey_RejectsMalformedKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.key")
	if err := os.WriteFile(path, []byte("not-a-key\n"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := LoadKey(path); err == nil {
		t.Error("expected an error for a malformed key file")
	}
}

func TestLoadKey_MissingFile(t *testing.T) {
	if _, err := LoadKey(filepath.Join(t.TempDir(), "missing.key")); err == nil {
		t.Error("expected an error for a missing key file")
	}
}
