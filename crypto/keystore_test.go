package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool-keystore.json")
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	if err := WriteKeystore(path, key, "hunter2"); err != nil {
		t.Fatalf("write keystore: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat keystore: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("keystore permissions = %o, want 600", perm)
	}

	loaded, err := ReadKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("read keystore: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("loaded key differs from stored key")
	}
	if loaded.PubKey().Address().String() != key.PubKey().Address().String() {
		t.Fatalf("custody address changed across reload")
	}

	if _, err := ReadKeystore(path, "wrong-passphrase"); err == nil {
		t.Fatal("expected decrypt failure with wrong passphrase")
	}
}

func TestLoadOrCreateKeystoreIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool-keystore.json")

	first, err := LoadOrCreateKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := LoadOrCreateKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("custody key regenerated on reload")
	}
}

func TestWriteKeystoreRejectsBadInputs(t *testing.T) {
	if err := WriteKeystore(filepath.Join(t.TempDir(), "ks.json"), nil, "x"); err == nil {
		t.Fatal("expected error for nil key")
	}
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := WriteKeystore("", key, "x"); err == nil {
		t.Fatal("expected error for empty path")
	}
}
