//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	ta "github.com/panyam/tokenauth"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	Email      string    `gorm:"size:255;uniqueIndex"`
	Password   string    `gorm:"size:255"`
	Name       string    `gorm:"size:128;index"`
	Picture    string    `gorm:"size:1024"`
	Role       string    `gorm:"size:16;index;default:user"`
	FacebookID string    `gorm:"size:128;index"`
	GoogleID   string    `gorm:"size:128;index"`
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *ta.User {
	return &ta.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.Password,
		Name:         m.Name,
		Picture:      m.Picture,
		Role:         ta.Role(m.Role),
		Services:     ta.Services{Facebook: m.FacebookID, Google: m.GoogleID},
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func UserToModel(u *ta.User) *UserModel {
	return &UserModel{
		ID:         u.ID,
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

// AuthTokenModel is the GORM model for refresh and password reset tokens
type AuthTokenModel struct {
	Token     string       `gorm:"primaryKey;size:128"`
	Type      ta.TokenType `gorm:"size:32;index"`
	UserID    string       `gorm:"size:64;index"`
	Email     string       `gorm:"size:255;index"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (AuthTokenModel) TableName() string {
	return "auth_tokens"
}

func (m *AuthTokenModel) ToAuthToken() *ta.AuthToken {
	return &ta.AuthToken{
		Token:     m.Token,
		Type:      m.Type,
		UserID:    m.UserID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func AuthTokenToModel(t *ta.AuthToken) *AuthTokenModel {
	return &AuthTokenModel{
		Token:     t.Token,
		Type:      t.Type,
		UserID:    t.UserID,
		Email:     t.Email,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}
