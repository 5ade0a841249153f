package crypto

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestSealOpen(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey() failed: %v", err)
	}
	plain := []byte("eyJhbGciOiJIUzI1NiJ9.payload.sig")
	blob, err := Seal(key, plain)
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}
	if bytes.Contains(blob, plain) {
		t.Fatal("ciphertext contains plaintext")
	}
	got, err := Open(key, blob)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decrypted data does not match original data")
	}

	other, _ := NewKey()
	if _, err := Open(other, blob); err == nil {
		t.Fatal("expected Open with wrong key to fail")
	}
	if _, err := Open(key, blob[:4]); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
	if _, err := Seal(key[:16], plain); err != ErrInvalidKeyLength {
		t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestDeriveTokenKeyIsStable(t *testing.T) {
	a, err := DeriveTokenKey("machine-1")
	if err != nil {
		t.Fatalf("DeriveTokenKey() failed: %v", err)
	}
	b, _ := DeriveTokenKey("machine-1")
	c, _ := DeriveTokenKey("machine-2")
	if len(a) != KeySize || !bytes.Equal(a, b) {
		t.Fatal("expected stable 32-byte key")
	}
	if bytes.Equal(a, c) {
		t.Fatal("expected different keys for different fingerprints")
	}
	if _, err := DeriveTokenKey(""); err == nil {
		t.Fatal("expected error for empty fingerprint")
	}
}

func TestReadKeyFromFile(t *testing.T) {
	t.Setenv(KeyEnv, "")
	key, _ := NewKey()
	path := filepath.Join(t.TempDir(), "token.key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	got, err := ReadKey(path)
	if err != nil {
		t.Fatalf("ReadKey() failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatal("key mismatch")
	}

	t.Setenv(KeyEnv, "abcd")
	if _, err := ReadKey(path); err != ErrInvalidKeyLength {
		t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
	}
}
