package tokenauth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	ta "github.com/panyam/tokenauth"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	env := setupTest(t)
	token, expiresAt, err := env.issuer.IssueAccessToken("user-1")
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if want := env.clock().Add(ta.TokenExpiryAccessToken); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}
	sub, err := env.issuer.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if sub != "user-1" {
		t.Errorf("subject = %q, want user-1", sub)
	}
}

func TestValidateAccessTokenRejects(t *testing.T) {
	env := setupTest(t)
	now := env.clock()
	claims := func(typ string, exp time.Time) jwt.MapClaims {
		return jwt.MapClaims{"sub": "user-1", "type": typ, "iat": now.Unix(), "exp": exp.Unix()}
	}
	sign := func(method jwt.SigningMethod, c jwt.MapClaims, key any) string {
		s, err := jwt.NewWithClaims(method, c).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", sign(jwt.SigningMethodHS256, claims("access", now.Add(time.Hour)), []byte("other-secret"))},
		{"alg none", sign(jwt.SigningMethodNone, claims("access", now.Add(time.Hour)), jwt.UnsafeAllowNoneSignatureType)},
		{"hs512", sign(jwt.SigningMethodHS512, claims("access", now.Add(time.Hour)), []byte(testSecret))},
		{"wrong type", sign(jwt.SigningMethodHS256, claims("refresh", now.Add(time.Hour)), []byte(testSecret))},
		{"expired", sign(jwt.SigningMethodHS256, claims("access", now.Add(-time.Minute)), []byte(testSecret))},
		{"no expiry", sign(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1", "type": "access"}, []byte(testSecret))},
		{"no subject", sign(jwt.SigningMethodHS256, jwt.MapClaims{"type": "access", "exp": now.Add(time.Hour).Unix()}, []byte(testSecret))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.issuer.ValidateAccessToken(tt.token)
			assertCode(t, err, ta.ErrUnauthorized)
		})
	}
}

func TestNewOpaqueToken(t *testing.T) {
	a := ta.NewOpaqueToken("user-1")
	b := ta.NewOpaqueToken("user-1")
	if !strings.HasPrefix(a, "user-1.") {
		t.Errorf("token %q lacks user id prefix", a)
	}
	if a == b {
		t.Error("tokens must be unique")
	}
}

func TestIssueRefreshAndResetTokens(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	u := &ta.User{ID: "user-9", Email: "nine@example.com"}

	refresh, err := env.issuer.IssueRefreshToken(ctx, u)
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}
	if refresh.Type != ta.TokenTypeRefresh || !refresh.ExpiresAt.Equal(env.clock().Add(ta.TokenExpiryRefreshToken)) {
		t.Errorf("unexpected refresh token %+v", refresh)
	}
	reset, err := env.issuer.IssueResetToken(ctx, u)
	if err != nil {
		t.Fatalf("IssueResetToken() error = %v", err)
	}
	if reset.Type != ta.TokenTypePasswordReset || !reset.ExpiresAt.Equal(env.clock().Add(ta.TokenExpiryPasswordReset)) {
		t.Errorf("unexpected reset token %+v", reset)
	}

	// Types are separate namespaces
	if _, err := env.store.ConsumeToken(ctx, ta.TokenTypePasswordReset, u.Email, refresh.Token); err == nil {
		t.Error("refresh token must not be consumable as a reset token")
	}
	got, err := env.store.ConsumeToken(ctx, ta.TokenTypeRefresh, u.Email, refresh.Token)
	if err != nil {
		t.Fatalf("ConsumeToken() error = %v", err)
	}
	if got.UserID != "user-9" {
		t.Errorf("UserID = %q, want user-9", got.UserID)
	}
}

func TestAuthTokenIsExpiredAt(t *testing.T) {
	now := time.Now()
	tok := &ta.AuthToken{ExpiresAt: now}
	if !tok.IsExpiredAt(now) {
		t.Error("token is expired at its expiry instant")
	}
	if tok.IsExpiredAt(now.Add(-time.Nanosecond)) {
		t.Error("token is valid before its expiry")
	}
}
