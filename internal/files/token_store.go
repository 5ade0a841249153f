package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"taskmate/internal/crypto"
)

// ErrNoToken is returned by Load when the slot is empty.
var ErrNoToken = errors.New("no stored token")

// TokenStore is the single durable slot holding the session token.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

type tokenRecord struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// FileTokenStore keeps the token in a JSON file, optionally sealed with
// AES-GCM when a key is given.
type FileTokenStore struct {
	path string
	key  []byte
	mu   sync.RWMutex
}

// NewFileTokenStore stores the token at path. A nil key stores plaintext JSON.
func NewFileTokenStore(path string, key []byte) (*FileTokenStore, error) {
	if key != nil && len(key) != crypto.KeySize {
		return nil, crypto.ErrInvalidKeyLength
	}
	return &FileTokenStore{path: path, key: key}, nil
}

func (s *FileTokenStore) Path() string { return s.path }

func (s *FileTokenStore) Load() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	if s.key != nil {
		data, err = crypto.Open(s.key, data)
		if err != nil {
			return "", fmt.Errorf("open token file: %w", err)
		}
	}
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("decode token file: %w", err)
	}
	if rec.Token == "" {
		return "", ErrNoToken
	}
	return rec.Token, nil
}

func (s *FileTokenStore) Save(token string) error {
	if token == "" {
		return s.Clear()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(tokenRecord{Token: token, SavedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	if s.key != nil {
		data, err = crypto.Seal(s.key, data)
		if err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the slot. Clearing an empty slot is not an error.
func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryTokenStore is a process-local slot for tests and the demo tour.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func (m *MemoryTokenStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", ErrNoToken
	}
	return m.token, nil
}

func (m *MemoryTokenStore) Save(token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Clear() error { return m.Save("") }
