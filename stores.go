package tokenauth

import (
	"context"
	"time"
)

// ListOptions filters and paginates user listings.
// Results are ordered by CreatedAt, newest first.
type ListOptions struct {
	Page    int // 1-based, defaults to 1
	PerPage int // defaults to DefaultPerPage
	Name    string
	Email   string
	Role    Role
}

const DefaultPerPage = 30

// Normalized returns a copy with defaults applied
func (o ListOptions) Normalized() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage < 1 {
		o.PerPage = DefaultPerPage
	}
	o.Email = NormalizeEmail(o.Email)
	return o
}

// Offset returns the number of records to skip for the current page
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.PerPage
}

// Matches reports whether u passes the equality filters in o.
// Backends without a query engine use this to filter in memory.
func (o ListOptions) Matches(u *User) bool {
	if o.Name != "" && u.Name != o.Name {
		return false
	}
	if o.Email != "" && u.Email != o.Email {
		return false
	}
	if o.Role != "" && u.Role != o.Role {
		return false
	}
	return true
}

// UserStore persists user accounts
type UserStore interface {
	// CreateUser assigns an ID and timestamps to u and stores it.
	// Returns ErrDuplicateEmail if another user already owns u.Email.
	CreateUser(ctx context.Context, u *User) error

	// GetUserByID returns ErrUserNotFound when no user has the id
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail looks up by normalized email, returning ErrUserNotFound on a miss
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// FindUserByServiceOrEmail finds the user linked to the external id for
	// service, or failing that the user owning email.
	FindUserByServiceOrEmail(ctx context.Context, service, externalID, email string) (*User, error)

	// SaveUser overwrites an existing user, bumping UpdatedAt
	SaveUser(ctx context.Context, u *User) error

	// ListUsers returns one page of users matching opts
	ListUsers(ctx context.Context, opts ListOptions) ([]*User, error)
}

// TokenStore persists refresh and password reset tokens
type TokenStore interface {
	// SaveToken stores a newly issued token
	SaveToken(ctx context.Context, t *AuthToken) error

	// ConsumeToken atomically finds and deletes the token of the given type
	// matching (email, token). Exactly one concurrent caller gets the token;
	// every other caller gets ErrTokenNotFound. Expired tokens are still
	// returned (and deleted) so callers can report the expiry.
	ConsumeToken(ctx context.Context, tokenType TokenType, email, token string) (*AuthToken, error)

	// DeleteUserTokens removes every token of the given type owned by userID
	DeleteUserTokens(ctx context.Context, userID string, tokenType TokenType) error

	// CleanupExpiredTokens removes tokens that expired at or before cutoff.
	// Callers pass a cutoff in the past so recently expired tokens still
	// report ErrExpiredToken.
	CleanupExpiredTokens(ctx context.Context, cutoff time.Time) error
}

// Store bundles the two persistence concerns a backend provides
type Store interface {
	UserStore
	TokenStore
}
