package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes the opaque tokens kept in a TokenStore
type TokenType string

const (
	TokenTypeRefresh       TokenType = "refresh"
	TokenTypePasswordReset TokenType = "password_reset"
)

// Default token lifetimes
const (
	TokenExpiryAccessToken   = 30 * time.Minute
	TokenExpiryRefreshToken  = 30 * 24 * time.Hour // 30 days
	TokenExpiryPasswordReset = 2 * time.Hour
)

// ExpiredTokenRetention is how long an expired token is kept before a sweep
// may delete it. Until then presenting it reports ErrExpiredToken.
const ExpiredTokenRetention = 7 * 24 * time.Hour

// AuthToken is a persisted single-use token.
// Token values have the form "<userID>.<uuid>".
type AuthToken struct {
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	UserID    string    `json:"userId"`
	Email     string    `json:"userEmail"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expires"`
}

// IsExpiredAt reports whether the token has expired as of now
func (t *AuthToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenBundle is returned to clients after login, register and refresh
type TokenBundle struct {
	TokenType    string    `json:"tokenType"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    time.Time `json:"expiresIn"`
}

type accessClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer mints access tokens and persists refresh/reset tokens
type TokenIssuer struct {
	Secret             []byte
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	ResetTokenExpiry   time.Duration
	Tokens             TokenStore

	// Retention keeps expired tokens around so they can still be reported
	// as expired. Defaults to ExpiredTokenRetention.
	Retention time.Duration

	// Now is the clock used for every iat/exp computation and check
	Now func() time.Time
}

// NewTokenIssuer creates an issuer from configuration
func NewTokenIssuer(cfg *Config, tokens TokenStore) *TokenIssuer {
	out := &TokenIssuer{
		Secret:            []byte(cfg.JWTSecret),
		AccessTokenExpiry: cfg.AccessTokenExpiry(),
		Retention:         cfg.TokenRetention,
		Tokens:            tokens,
	}
	out.EnsureReasonableDefaults()
	return out
}

// EnsureReasonableDefaults fills in unset lifetimes and the clock
func (ti *TokenIssuer) EnsureReasonableDefaults() {
	if ti.AccessTokenExpiry <= 0 {
		ti.AccessTokenExpiry = TokenExpiryAccessToken
	}
	if ti.RefreshTokenExpiry <= 0 {
		ti.RefreshTokenExpiry = TokenExpiryRefreshToken
	}
	if ti.ResetTokenExpiry <= 0 {
		ti.ResetTokenExpiry = TokenExpiryPasswordReset
	}
	if ti.Retention <= 0 {
		ti.Retention = ExpiredTokenRetention
	}
	if ti.Now == nil {
		ti.Now = time.Now
	}
}

// PurgeExpiredTokens deletes tokens that expired more than Retention ago
func (ti *TokenIssuer) PurgeExpiredTokens(ctx context.Context) error {
	return ti.Tokens.CleanupExpiredTokens(ctx, ti.Now().Add(-ti.Retention))
}

// IssueAccessToken signs a short-lived HS256 JWT whose subject is userID.
// It returns the token and its expiry.
func (ti *TokenIssuer) IssueAccessToken(userID string) (string, time.Time, error) {
	now := ti.Now()
	expiresAt := now.Add(ti.AccessTokenExpiry)
	claims := accessClaims{
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken verifies signature, algorithm, type and expiry and
// returns the subject. Any failure is reported as ErrUnauthorized.
func (ti *TokenIssuer) ValidateAccessToken(tokenString string) (string, error) {
	var claims accessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(ti.Now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrUnauthorized.Wrap(errors.New("access token expired"))
		}
		return "", ErrUnauthorized.Wrap(err)
	}
	if !token.Valid {
		return "", ErrUnauthorized.Wrap(errors.New("invalid token"))
	}
	if claims.Type != "access" {
		return "", ErrUnauthorized.Wrap(errors.New("invalid token type"))
	}
	if claims.Subject == "" {
		return "", ErrUnauthorized.Wrap(errors.New("missing subject"))
	}
	return claims.Subject, nil
}

// NewOpaqueToken generates a token value of the form "<userID>.<uuid>"
func NewOpaqueToken(userID string) string {
	return userID + "." + uuid.NewString()
}

// IssueRefreshToken creates and stores a 30 day single-use refresh token
func (ti *TokenIssuer) IssueRefreshToken(ctx context.Context, user *User) (*AuthToken, error) {
	return ti.issue(ctx, user, TokenTypeRefresh, ti.RefreshTokenExpiry)
}

// IssueResetToken creates and stores a 2 hour single-use password reset token
func (ti *TokenIssuer) IssueResetToken(ctx context.Context, user *User) (*AuthToken, error) {
	return ti.issue(ctx, user, TokenTypePasswordReset, ti.ResetTokenExpiry)
}

func (ti *TokenIssuer) issue(ctx context.Context, user *User, tokenType TokenType, expiry time.Duration) (*AuthToken, error) {
	now := ti.Now()
	t := &AuthToken{
		Token:     NewOpaqueToken(user.ID),
		Type:      tokenType,
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(expiry),
	}
	if err := ti.Tokens.SaveToken(ctx, t); err != nil {
		return nil, fmt.Errorf("save %s token: %w", tokenType, err)
	}
	return t, nil
}

// TokenBundle pairs an access token with a freshly issued refresh token
func (ti *TokenIssuer) TokenBundle(ctx context.Context, user *User, accessToken string, expiresAt time.Time) (*TokenBundle, error) {
	refresh, err := ti.IssueRefreshToken(ctx, user)
	if err != nil {
		return nil, err
	}
	return &TokenBundle{
		TokenType:    "Bearer",
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		ExpiresIn:    expiresAt,
	}, nil
}

// IssueTokens mints a new access token and refresh token for user
func (ti *TokenIssuer) IssueTokens(ctx context.Context, user *User) (*TokenBundle, error) {
	access, expiresAt, err := ti.IssueAccessToken(user.ID)
	if err != nil {
		return nil, err
	}
	return ti.TokenBundle(ctx, user, access, expiresAt)
}
