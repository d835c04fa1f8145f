package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func vaultKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestVaultRejectsShortKey(t *testing.T) {
	if _, err := NewVault("", []byte("short")); err == nil {
		t.Fatal("expected error for non-32-byte key")
	}
}

func TestVaultPutGetDelete(t *testing.T) {
	v, err := NewVault("", vaultKey(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Put("openai_api_key", "sk-test-123"); err != nil {
		t.Fatal(err)
	}
	s, ok := v.Get("openai_api_key")
	if !ok || s.Expose() != "sk-test-123" {
		t.Fatalf("Get returned %v, %t", s, ok)
	}
	if err := v.Delete("openai_api_key"); err != nil {
		t.Fatal(err)
	}
	if _, ok := v.Get("openai_api_key"); ok {
		t.Fatal("expected credential gone after Delete")
	}
}

func TestVaultPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	key := vaultKey(2)

	v, err := NewVault(path, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Put("telegram_token", "1234:abcd"); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewVault(path, key)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := reopened.Get("telegram_token")
	if !ok || s.Expose() != "1234:abcd" {
		t.Fatalf("expected credential to survive reopen, got %v, %t", s, ok)
	}
}

func TestVaultWrongKeyFailsToOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	v, err := NewVault(path, vaultKey(3))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Put("k", "v"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewVault(path, vaultKey(4)); err == nil {
		t.Fatal("expected unseal failure under a different key")
	}
}

func TestVaultFileNeverContainsPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	v, err := NewVault(path, vaultKey(5))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Put("api_key", "super-sensitive-value"); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("super-sensitive-value")) || bytes.Contains(raw, []byte("api_key")) {
		t.Fatal("sealed vault file leaks plaintext")
	}
}

func TestVaultNamesSorted(t *testing.T) {
	v, err := NewVault("", vaultKey(6))
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := v.Put(name, "x"); err != nil {
			t.Fatal(err)
		}
	}
	names := v.Names()
	if len(names) != 3 || names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Fatalf("unexpected Names order: %v", names)
	}
}
