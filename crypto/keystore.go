package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// The pool custody key lives in the daemon's data directory as an encrypted
// v3 keystore file, so restarts keep the same custody address instead of
// orphaning funds under a fresh one. Light scrypt parameters are deliberate:
// the file never leaves the data directory and the daemon decrypts it on
// every boot.

// LoadOrCreateKeystore returns the custody key stored at path, generating and
// persisting a fresh key on first run.
func LoadOrCreateKeystore(path, passphrase string) (*PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return ReadKeystore(path, passphrase)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("crypto: custody keystore: stat %s: %w", path, err)
	}
	key, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := WriteKeystore(path, key, passphrase); err != nil {
		return nil, err
	}
	return key, nil
}

// WriteKeystore encrypts the custody key under passphrase and writes it to
// path with owner-only permissions. The encrypted file is staged in a
// temporary directory and renamed into place, so a crash mid-write never
// leaves a partial keystore behind.
func WriteKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: custody keystore: nil private key")
	}
	if path == "" {
		return errors.New("crypto: custody keystore: path required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("crypto: custody keystore: %w", err)
	}

	staging, err := os.MkdirTemp(dir, "custody-")
	if err != nil {
		return fmt.Errorf("crypto: custody keystore: %w", err)
	}
	defer os.RemoveAll(staging)

	ks := keystore.NewKeyStore(staging, keystore.LightScryptN, keystore.LightScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return fmt.Errorf("crypto: custody keystore: encrypt: %w", err)
	}
	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("crypto: custody keystore: %w", err)
	}
	if len(entries) == 0 {
		return errors.New("crypto: custody keystore: encrypted file not produced")
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("crypto: custody keystore: %w", err)
	}
	if err := os.Rename(filepath.Join(staging, entries[0].Name()), path); err != nil {
		return fmt.Errorf("crypto: custody keystore: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("crypto: custody keystore: %w", err)
	}
	return nil
}

// ReadKeystore decrypts the custody key stored at path.
func ReadKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: custody keystore: path required")
	}
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: custody keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(encrypted, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: custody keystore: decrypt: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
