package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the AES-256 key length used for the token slot.
const KeySize = 32

// KeyEnv names the env var holding a hex-encoded token key.
const KeyEnv = "TASKMATE_TOKEN_KEY_HEX"

var ErrInvalidKeyLength = errors.New("invalid key length")

// DeriveTokenKey derives a 32-byte key from a device fingerprint with
// HKDF-SHA256.
func DeriveTokenKey(deviceFP string) ([]byte, error) {
	if deviceFP == "" {
		return nil, errors.New("empty device fingerprint")
	}
	h := hkdf.New(sha256.New, []byte(deviceFP), []byte("taskmate"), []byte("token-slot"))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadKey loads a hex key from KeyEnv, then from path.
func ReadKey(path string) ([]byte, error) {
	h := os.Getenv(KeyEnv)
	if h == "" {
		if path == "" {
			return nil, fmt.Errorf("%s not set and no key file configured", KeyEnv)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s not set and key file unreadable: %w", KeyEnv, err)
		}
		h = string(data)
	}
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("key hex decode error: %w", err)
	}
	if len(b) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	return b, nil
}

// NewKey returns KeySize random bytes.
func NewKey() ([]byte, error) {
	b := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
