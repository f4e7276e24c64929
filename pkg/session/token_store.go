package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Tokens is the credential pair plus the minimal identity persisted between runs.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id,omitempty"`
	Username     string `json:"username,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
}

// TokenStore persists tokens in client-local durable storage.
type TokenStore interface {
	Load() (Tokens, error)
	Save(Tokens) error
	Clear() error
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens Tokens
}

// NewMemoryTokenStore returns a store seeded with initial.
func NewMemoryTokenStore(initial Tokens) *MemoryTokenStore {
	return &MemoryTokenStore{tokens: initial}
}

// Load returns the stored tokens.
func (m *MemoryTokenStore) Load() (Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, nil
}

// Save replaces the stored tokens.
func (m *MemoryTokenStore) Save(t Tokens) error {
	m.mu.Lock()
	m.tokens = t
	m.mu.Unlock()
	return nil
}

// Clear forgets the stored tokens.
func (m *MemoryTokenStore) Clear() error {
	return m.Save(Tokens{})
}

// FileTokenStore keeps tokens in a JSON file readable only by the owner.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

// NewFileTokenStore stores tokens at path. An empty path resolves to
// <user config dir>/bookie/session.json.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "bookie", "session.json")
	}
	return &FileTokenStore{path: path}, nil
}

// Path returns the file location.
func (f *FileTokenStore) Path() string {
	return f.path
}

// Load returns empty tokens when the file does not exist yet.
func (f *FileTokenStore) Load() (Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Tokens{}, nil
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("read session file: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return Tokens{}, fmt.Errorf("parse session file: %w", err)
	}
	return t, nil
}

func (f *FileTokenStore) Save(t Tokens) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (f *FileTokenStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
