package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ta "github.com/panyam/tokenauth"
	"github.com/panyam/tokenauth/client"
	"github.com/panyam/tokenauth/stores/fs"
)

type testServer struct {
	*httptest.Server
	issuer   *ta.TokenIssuer
	notifier *ta.MemoryNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := fs.NewStore(t.TempDir())
	creds := ta.NewCredentialStore(store, &ta.PasswordHasher{})
	issuer := &ta.TokenIssuer{Secret: []byte("client-test-secret"), Tokens: store}
	issuer.EnsureReasonableDefaults()
	notifier := &ta.MemoryNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	api := &ta.API{
		Auth:       &ta.AuthService{Credentials: creds, Issuer: issuer, Notifier: notifier, Logger: logger},
		Authorizer: &ta.Authorizer{Issuer: issuer, Credentials: creds, Logger: logger},
		Logger:     logger,
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, issuer: issuer, notifier: notifier}
}

func TestAuthClient_RegisterLoginProfile(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	store := client.NewMemoryCredentialStore()
	c := client.NewAuthClient(srv.URL, store)

	u, err := c.Register(ctx, "Client@Example.com", "password123", "Client User")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Email != "client@example.com" || u.Role != ta.RoleUser {
		t.Errorf("Register() user = %+v", u)
	}
	cred, _ := c.GetCredential()
	if cred == nil || cred.AccessToken == "" || cred.RefreshToken == "" {
		t.Fatalf("expected stored credential, got %+v", cred)
	}
	if cred.UserEmail != "client@example.com" || cred.UserID != u.ID {
		t.Errorf("credential identity = %q/%q", cred.UserID, cred.UserEmail)
	}

	profile, err := c.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if profile.ID != u.ID {
		t.Errorf("Profile().ID = %q, want %q", profile.ID, u.ID)
	}

	if err := c.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := c.Profile(ctx); !errors.Is(err, ta.ErrUnauthorized) {
		t.Errorf("Profile() after logout error = %v, want unauthorized", err)
	}

	if _, err := c.Login(ctx, "client@example.com", "password123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !c.IsLoggedIn() {
		t.Error("expected IsLoggedIn after Login")
	}
}

func TestAuthClient_ErrorsMatchSentinels(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := client.NewAuthClient(srv.URL, client.NewMemoryCredentialStore())

	if _, err := c.Register(ctx, "dup@example.com", "password123", "Dup"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err := c.Register(ctx, "dup@example.com", "password123", "Dup")
	if !errors.Is(err, ta.ErrDuplicateEmail) {
		t.Errorf("duplicate Register() error = %v", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Errorf("expected APIError with 409, got %v", err)
	}

	_, err = c.Login(ctx, "dup@example.com", "wrong-password")
	if !errors.Is(err, ta.ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want invalid credentials", err)
	}
}

func TestAuthClient_RefreshRotatesToken(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := client.NewAuthClient(srv.URL, client.NewMemoryCredentialStore())
	if _, err := c.Register(ctx, "rotate@example.com", "password123", "Rotate"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	before, _ := c.GetCredential()

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	after, _ := c.GetCredential()
	if after.RefreshToken == before.RefreshToken {
		t.Error("refresh token should rotate")
	}
	if after.UserEmail != before.UserEmail {
		t.Error("user email should be preserved across refresh")
	}

	// The old refresh token was consumed
	replay := client.NewMemoryCredentialStore()
	replay.SetCredential(srv.URL+"/v1", before)
	rc := client.NewAuthClient(srv.URL, replay)
	if err := rc.Refresh(ctx); !errors.Is(err, ta.ErrInvalidToken) {
		t.Errorf("replayed Refresh() error = %v, want invalid token", err)
	}
}

func TestAuthClient_GetTokenRefreshesWhenExpiringSoon(t *testing.T) {
	srv := newTestServer(t)
	srv.issuer.AccessTokenExpiry = 2 * time.Minute
	ctx := context.Background()
	c := client.NewAuthClient(srv.URL, client.NewMemoryCredentialStore())
	if _, err := c.Register(ctx, "soon@example.com", "password123", "Soon"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	before, _ := c.GetCredential()

	token, err := c.GetToken(ctx)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	after, _ := c.GetCredential()
	if after.RefreshToken == before.RefreshToken {
		t.Error("expected a refresh when the token expires within the threshold")
	}
	if token != after.AccessToken {
		t.Error("GetToken should return the refreshed access token")
	}
}

func TestAuthClient_TransportRetriesAfter401(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := client.NewAuthClient(srv.URL, client.NewMemoryCredentialStore())
	u, err := c.Register(ctx, "retry@example.com", "password123", "Retry")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Server rejects the access token but the refresh token is still good
	cred, _ := c.GetCredential()
	stale := *cred
	stale.AccessToken = "not-a-jwt"
	stale.ExpiresAt = time.Now().Add(time.Hour)
	store := client.NewMemoryCredentialStore()
	store.SetCredential(srv.URL+"/v1", &stale)
	rc := client.NewAuthClient(srv.URL, store)

	profile, err := rc.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if profile.ID != u.ID {
		t.Errorf("Profile().ID = %q, want %q", profile.ID, u.ID)
	}
	updated, _ := rc.GetCredential()
	if updated.AccessToken == "not-a-jwt" {
		t.Error("expected the stored access token to be replaced")
	}
}

func TestAuthClient_PasswordReset(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := client.NewAuthClient(srv.URL, client.NewMemoryCredentialStore())
	if _, err := c.Register(ctx, "reset@example.com", "password123", "Reset"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := c.SendPasswordReset(ctx, "reset@example.com"); err != nil {
		t.Fatalf("SendPasswordReset() error = %v", err)
	}
	token := srv.notifier.ResetToken("reset@example.com")
	if token == "" {
		t.Fatal("expected a reset token to be delivered")
	}
	if err := c.ResetPassword(ctx, "reset@example.com", "new-password", token); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if err := c.ResetPassword(ctx, "reset@example.com", "other-password", token); !errors.Is(err, ta.ErrInvalidToken) {
		t.Errorf("second ResetPassword() error = %v, want invalid token", err)
	}

	if _, err := c.Login(ctx, "reset@example.com", "password123"); !errors.Is(err, ta.ErrInvalidCredentials) {
		t.Errorf("old password should fail, got %v", err)
	}
	if _, err := c.Login(ctx, "reset@example.com", "new-password"); err != nil {
		t.Errorf("new password should work: %v", err)
	}
}

func TestAuthTransport_AddsHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	hc := &http.Client{Transport: &client.AuthTransport{Token: "static"}}
	resp, err := hc.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if got != "Bearer static" {
		t.Errorf("Authorization = %q, want Bearer static", got)
	}
}
