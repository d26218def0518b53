package tokenauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// OAuthProfile is the identity an external provider vouches for
type OAuthProfile struct {
	Service string
	ID      string
	Name    string
	Email   string
	Picture string
}

// CredentialStore owns user records and their password digests.
// Every write that sets a password goes through the hasher exactly once.
type CredentialStore struct {
	Users  UserStore
	Hasher *PasswordHasher
	Logger *slog.Logger
}

// NewCredentialStore creates a CredentialStore over a backend
func NewCredentialStore(users UserStore, hasher *PasswordHasher) *CredentialStore {
	return &CredentialStore{Users: users, Hasher: hasher}
}

func (c *CredentialStore) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Create registers a new user with a hashed password.
// An empty role defaults to RoleUser.
func (c *CredentialStore) Create(ctx context.Context, email, password, name string, role Role) (*User, error) {
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return nil, ValidationError("role", "unknown role")
	}
	digest, err := c.Hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Email:        NormalizeEmail(email),
		PasswordHash: digest,
		Name:         strings.TrimSpace(name),
		Role:         role,
	}
	if err := c.Users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *CredentialStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return c.Users.GetUserByEmail(ctx, NormalizeEmail(email))
}

func (c *CredentialStore) FindByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}
	return c.Users.GetUserByID(ctx, id)
}

// List returns a page of users, newest first
func (c *CredentialStore) List(ctx context.Context, opts ListOptions) ([]*User, error) {
	return c.Users.ListUsers(ctx, opts.Normalized())
}

// VerifyPassword reports whether plaintext matches the user's stored digest
func (c *CredentialStore) VerifyPassword(u *User, plaintext string) bool {
	if u == nil {
		return c.Hasher.VerifyDecoy(plaintext)
	}
	return c.Hasher.Verify(plaintext, u.PasswordHash)
}

// ChangePassword hashes plaintext and persists it as the user's new password
func (c *CredentialStore) ChangePassword(ctx context.Context, u *User, plaintext string) error {
	digest, err := c.Hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	u.PasswordHash = digest
	return c.Users.SaveUser(ctx, u)
}

// UpsertOAuthLink finds the account linked to the provider id (or owning the
// provider's email) and links it, or creates a new account with a random
// password. Losing a concurrent create race on the email falls back to linking.
func (c *CredentialStore) UpsertOAuthLink(ctx context.Context, p OAuthProfile) (*User, error) {
	if p.ID == "" {
		return nil, ErrUnauthorized.Wrap(errors.New("provider returned no subject"))
	}
	var linked Services
	if !linked.Set(p.Service, p.ID) {
		return nil, ValidationError("service", "unsupported identity provider")
	}
	email := NormalizeEmail(p.Email)

	for attempt := 0; attempt < 2; attempt++ {
		u, err := c.Users.FindUserByServiceOrEmail(ctx, p.Service, p.ID, email)
		if err == nil {
			u.Services.Set(p.Service, p.ID)
			if u.Name == "" {
				u.Name = p.Name
			}
			if u.Picture == "" {
				u.Picture = p.Picture
			}
			if err := c.Users.SaveUser(ctx, u); err != nil {
				return nil, err
			}
			return u, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}

		if email == "" {
			return nil, ValidationError("email", "identity provider did not return an email")
		}
		digest, err := c.Hasher.Hash(uuid.NewString())
		if err != nil {
			return nil, err
		}
		u = &User{
			Email:        email,
			PasswordHash: digest,
			Name:         strings.TrimSpace(p.Name),
			Picture:      p.Picture,
			Role:         RoleUser,
			Services:     linked,
		}
		err = c.Users.CreateUser(ctx, u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrDuplicateEmail) {
			return nil, err
		}
		c.logger().Debug("oauth create lost email race, relinking", "service", p.Service)
	}
	return nil, ErrDuplicateEmail
}

// Update applies a profile update on behalf of actor.
// Role changes from non-admin actors are silently dropped.
func (c *CredentialStore) Update(ctx context.Context, actor, target *User, upd UserUpdate) (*User, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if upd.Name != nil {
		target.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Email != nil {
		target.Email = NormalizeEmail(*upd.Email)
	}
	if upd.Role != nil && actor.IsAdmin() {
		target.Role = *upd.Role
	}
	if upd.Password != nil {
		if err := c.ChangePassword(ctx, target, *upd.Password); err != nil {
			return nil, err
		}
		return target, nil
	}
	if err := c.Users.SaveUser(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}
