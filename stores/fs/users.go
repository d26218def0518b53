package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ta "github.com/panyam/tokenauth"
)

// FSUserStore stores users as JSON files.
//
// Layout:
//
//	users/<id>.json        the user record
//	emails/<sha256(email)> the owning user id, created O_EXCL
//
// The email index is the uniqueness guarantee, also across processes
// sharing the directory.
type FSUserStore struct {
	StoragePath string
	mu          sync.RWMutex
}

// NewFSUserStore creates a new file-based user store
func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) userPath(id string) string {
	return filepath.Join(s.StoragePath, "users", id+".json")
}

func (s *FSUserStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", hashKey(email))
}

// claimEmail reserves email for id. Returns ErrDuplicateEmail if taken.
func (s *FSUserStore) claimEmail(email, id string) error {
	path := s.emailPath(email)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ta.ErrDuplicateEmail
		}
		return fmt.Errorf("claim email: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(id); err != nil {
		os.Remove(path)
		return fmt.Errorf("claim email: %w", err)
	}
	return nil
}

func (s *FSUserStore) CreateUser(ctx context.Context, u *ta.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.ID = uuid.NewString()
	u.Email = ta.NormalizeEmail(u.Email)
	if err := s.claimEmail(u.Email, u.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	if err := writeJSON(s.userPath(u.ID), newUserRecord(u)); err != nil {
		os.Remove(s.emailPath(u.Email))
		return err
	}
	return nil
}

func (s *FSUserStore) GetUserByID(ctx context.Context, id string) (*ta.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUserUnsafe(id)
}

// getUserUnsafe loads a user without locking (caller must hold lock)
func (s *FSUserStore) getUserUnsafe(id string) (*ta.User, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, ta.ErrUserNotFound
	}
	var rec userRecord
	if err := readJSON(s.userPath(id), &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ta.ErrUserNotFound
		}
		return nil, err
	}
	return rec.toUser(), nil
}

func (s *FSUserStore) GetUserByEmail(ctx context.Context, email string) (*ta.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUserByEmailUnsafe(ta.NormalizeEmail(email))
}

func (s *FSUserStore) getUserByEmailUnsafe(email string) (*ta.User, error) {
	if email == "" {
		return nil, ta.ErrUserNotFound
	}
	id, err := os.ReadFile(s.emailPath(email))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ta.ErrUserNotFound
		}
		return nil, err
	}
	return s.getUserUnsafe(string(id))
}

func (s *FSUserStore) FindUserByServiceOrEmail(ctx context.Context, service, externalID, email string) (*ta.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if externalID != "" {
		users, err := s.allUsersUnsafe()
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.Services.Get(service) == externalID {
				return u, nil
			}
		}
	}
	return s.getUserByEmailUnsafe(ta.NormalizeEmail(email))
}

func (s *FSUserStore) SaveUser(ctx context.Context, u *ta.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getUserUnsafe(u.ID)
	if err != nil {
		return err
	}
	u.Email = ta.NormalizeEmail(u.Email)
	if u.Email != existing.Email {
		if err := s.claimEmail(u.Email, u.ID); err != nil {
			return err
		}
		os.Remove(s.emailPath(existing.Email))
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	return writeJSON(s.userPath(u.ID), newUserRecord(u))
}

func (s *FSUserStore) ListUsers(ctx context.Context, opts ta.ListOptions) ([]*ta.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts = opts.Normalized()
	users, err := s.allUsersUnsafe()
	if err != nil {
		return nil, err
	}
	matched := users[:0]
	for _, u := range users {
		if opts.Matches(u) {
			matched = append(matched, u)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start := opts.Offset()
	if start >= len(matched) {
		return []*ta.User{}, nil
	}
	end := min(start+opts.PerPage, len(matched))
	return matched[start:end], nil
}

func (s *FSUserStore) allUsersUnsafe() ([]*ta.User, error) {
	dir := filepath.Join(s.StoragePath, "users")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []*ta.User
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		var rec userRecord
		if err := readJSON(filepath.Join(dir, name), &rec); err != nil {
			continue
		}
		out = append(out, rec.toUser())
	}
	return out, nil
}

// userRecord is the on-disk form of a user. ta.User hides the password
// hash and services from JSON, so they are stored explicitly here.
type userRecord struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"password_hash"`
	Name         string      `json:"name"`
	Picture      string      `json:"picture,omitempty"`
	Role         ta.Role     `json:"role"`
	Services     ta.Services `json:"services"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func newUserRecord(u *ta.User) *userRecord {
	return &userRecord{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		Picture:      u.Picture,
		Role:         u.Role,
		Services:     u.Services,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (r *userRecord) toUser() *ta.User {
	return &ta.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Name:         r.Name,
		Picture:      r.Picture,
		Role:         r.Role,
		Services:     r.Services,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
