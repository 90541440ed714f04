package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const tokenFile = "token"

// Service holds the bearer token for the current user. Logout clears it
// and runs every registered hook; the API client calls Logout on 401.
type Service interface {
	Token() string
	SetToken(token string) error
	Logout() error
	OnLogout(fn func())
}

// hooks is shared by both implementations.
type hooks struct {
	mu  sync.Mutex
	fns []func()
}

func (h *hooks) add(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *hooks) fire() {
	h.mu.Lock()
	fns := append([]func(){}, h.fns...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// FileStore keeps the token in <dir>/token with 0600 permissions.
type FileStore struct {
	path  string
	hooks hooks

	mu    sync.RWMutex
	token string
}

// Init opens the store under dir and loads a previously saved token.
// A missing token file means "logged out", not an error.
func Init(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s := &FileStore{path: filepath.Join(dir, tokenFile)}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read token: %w", err)
	default:
		s.token = strings.TrimSpace(string(data))
	}
	return s, nil
}

func (s *FileStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *FileStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	s.token = token
	return nil
}

// Logout removes the token file and fires the logout hooks.
func (s *FileStore) Logout() error {
	s.mu.Lock()
	s.token = ""
	err := os.Remove(s.path)
	s.mu.Unlock()

	s.hooks.fire()

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return nil
}

func (s *FileStore) OnLogout(fn func()) { s.hooks.add(fn) }

// Memory is an in-process Service for tests and the mock server.
type Memory struct {
	hooks hooks

	mu      sync.RWMutex
	token   string
	logouts int
}

// NewMemory returns a Memory session holding token.
func NewMemory(token string) *Memory {
	return &Memory{token: token}
}

func (m *Memory) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Memory) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *Memory) Logout() error {
	m.mu.Lock()
	m.token = ""
	m.logouts++
	m.mu.Unlock()
	m.hooks.fire()
	return nil
}

func (m *Memory) OnLogout(fn func()) { m.hooks.add(fn) }

// Logouts reports how many times Logout was called.
func (m *Memory) Logouts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logouts
}
