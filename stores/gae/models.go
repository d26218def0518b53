//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	ta "github.com/panyam/tokenauth"
)

// Datastore kinds
const (
	KindUser               = "User"
	KindUserEmail          = "UserEmail"
	KindRefreshToken       = "RefreshToken"
	KindPasswordResetToken = "PasswordResetToken"
)

// UserEntity is the Datastore entity for users.
// Key name is the user id.
type UserEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	Email      string         `datastore:"email"`
	Password   string         `datastore:"password,noindex"`
	Name       string         `datastore:"name"`
	Picture    string         `datastore:"picture,noindex"`
	Role       string         `datastore:"role"`
	FacebookID string         `datastore:"facebook_id"`
	GoogleID   string         `datastore:"google_id"`
	CreatedAt  time.Time      `datastore:"created_at"`
	UpdatedAt  time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *ta.User {
	return &ta.User{
		ID:           e.Key.Name,
		Email:        e.Email,
		PasswordHash: e.Password,
		Name:         e.Name,
		Picture:      e.Picture,
		Role:         ta.Role(e.Role),
		Services:     ta.Services{Facebook: e.FacebookID, Google: e.GoogleID},
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func UserToEntity(u *ta.User, key *datastore.Key) *UserEntity {
	return &UserEntity{
		Key:        key,
		Email:      u.Email,
		Password:   u.PasswordHash,
		Name:       u.Name,
		Picture:    u.Picture,
		Role:       string(u.Role),
		FacebookID: u.Services.Facebook,
		GoogleID:   u.Services.Google,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// UserEmailEntity reserves an email for a user.
// Key name is the normalized email, so a transactional Get+Put is a uniqueness check.
type UserEmailEntity struct {
	UserID string `datastore:"user_id,noindex"`
}

// TokenEntity is the Datastore entity for refresh and reset tokens.
// Key name is the token value; the kind encodes the token type.
type TokenEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	UserEmail string         `datastore:"user_email"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
	Expires   time.Time      `datastore:"expires"`
}

func (e *TokenEntity) ToAuthToken(tokenType ta.TokenType) *ta.AuthToken {
	return &ta.AuthToken{
		Token:     e.Key.Name,
		Type:      tokenType,
		UserID:    e.UserID,
		Email:     e.UserEmail,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.Expires,
	}
}

func AuthTokenToEntity(t *ta.AuthToken, key *datastore.Key) *TokenEntity {
	return &TokenEntity{
		Key:       key,
		UserID:    t.UserID,
		UserEmail: t.Email,
		CreatedAt: t.CreatedAt,
		Expires:   t.ExpiresAt,
	}
}
