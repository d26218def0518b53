// Package client is a Go client for the tokenauth HTTP API. It stores the
// token bundle per server, attaches the access token to outgoing requests
// and rotates it through the refresh endpoint before it expires.
package client

import (
	"sync"
	"time"
)

// ServerCredential is the token bundle held for one server
type ServerCredential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsExpired returns true if the access token has expired
func (c *ServerCredential) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// IsExpiringSoon returns true if the token expires within the given duration
func (c *ServerCredential) IsExpiringSoon(within time.Duration) bool {
	return time.Now().Add(within).After(c.ExpiresAt)
}

// CanRefresh reports whether the refresh endpoint can be called. Refreshing
// needs both the token and the email it was issued to.
func (c *ServerCredential) CanRefresh() bool {
	return c.RefreshToken != "" && c.UserEmail != ""
}

// CredentialStore defines the interface for storing and retrieving credentials
type CredentialStore interface {
	// GetCredential returns nil, nil if no credential exists for the server
	GetCredential(serverURL string) (*ServerCredential, error)
	SetCredential(serverURL string, cred *ServerCredential) error
	RemoveCredential(serverURL string) error
	ListServers() ([]string, error)

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}

// MemoryCredentialStore keeps credentials in process memory
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]*ServerCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]*ServerCredential)}
}

func (m *MemoryCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds[serverURL], nil
}

func (m *MemoryCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[serverURL] = cred
	return nil
}

func (m *MemoryCredentialStore) RemoveCredential(serverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, serverURL)
	return nil
}

func (m *MemoryCredentialStore) ListServers() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.creds))
	for k := range m.creds {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryCredentialStore) Save() error { return nil }
