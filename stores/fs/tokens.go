package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ta "github.com/panyam/tokenauth"
)

// FSTokenStore stores refresh and reset tokens as JSON files under
// tokens/<type>/<sha256(email, token)>.json.
//
// Consumption claims the file with a rename, so exactly one caller wins
// even across processes.
type FSTokenStore struct {
	StoragePath string
	mu          sync.Mutex
}

// NewFSTokenStore creates a new file-based token store
func NewFSTokenStore(storagePath string) *FSTokenStore {
	return &FSTokenStore{StoragePath: storagePath}
}

func (s *FSTokenStore) tokenDir(tokenType ta.TokenType) string {
	return filepath.Join(s.StoragePath, "tokens", string(tokenType))
}

func (s *FSTokenStore) tokenPath(tokenType ta.TokenType, email, token string) string {
	return filepath.Join(s.tokenDir(tokenType), hashKey(email, token)+".json")
}

func (s *FSTokenStore) SaveToken(ctx context.Context, t *ta.AuthToken) error {
	return writeJSON(s.tokenPath(t.Type, t.Email, t.Token), t)
}

func (s *FSTokenStore) ConsumeToken(ctx context.Context, tokenType ta.TokenType, email, token string) (*ta.AuthToken, error) {
	path := s.tokenPath(tokenType, ta.NormalizeEmail(email), token)
	claimed := path + ".claimed-" + uuid.NewString()
	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ta.ErrTokenNotFound
		}
		return nil, err
	}
	defer os.Remove(claimed)

	var t ta.AuthToken
	if err := readJSON(claimed, &t); err != nil {
		return nil, err
	}
	if t.Token != token || t.Type != tokenType {
		return nil, ta.ErrTokenNotFound
	}
	return &t, nil
}

func (s *FSTokenStore) DeleteUserTokens(ctx context.Context, userID string, tokenType ta.TokenType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(tokenType, func(t *ta.AuthToken) bool {
		return t.UserID == userID
	})
}

func (s *FSTokenStore) CleanupExpiredTokens(ctx context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tokenType := range []ta.TokenType{ta.TokenTypeRefresh, ta.TokenTypePasswordReset} {
		if err := s.sweep(tokenType, func(t *ta.AuthToken) bool {
			return t.IsExpiredAt(cutoff)
		}); err != nil {
			return err
		}
	}
	return nil
}

// sweep removes every token of tokenType for which match returns true
func (s *FSTokenStore) sweep(tokenType ta.TokenType, match func(*ta.AuthToken) bool) error {
	dir := s.tokenDir(tokenType)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		var t ta.AuthToken
		if err := readJSON(filepath.Join(dir, name), &t); err != nil {
			continue
		}
		if match(&t) {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}
