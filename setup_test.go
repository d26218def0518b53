package tokenauth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	ta "github.com/panyam/tokenauth"
	"github.com/panyam/tokenauth/stores/fs"
)

const testSecret = "test-secret-key-for-testing-only"

// fakeResolver maps provider tokens to profiles
type fakeResolver struct {
	mu       sync.Mutex
	profiles map[string]ta.OAuthProfile
	err      error
}

func (f *fakeResolver) add(token string, p ta.OAuthProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profiles == nil {
		f.profiles = make(map[string]ta.OAuthProfile)
	}
	f.profiles[token] = p
}

func (f *fakeResolver) Resolve(ctx context.Context, accessToken string) (*ta.OAuthProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[accessToken]
	if !ok {
		return nil, ta.ErrUnauthorized.Wrap(errors.New("provider rejected token"))
	}
	return &p, nil
}

type testEnv struct {
	store    *fs.Store
	creds    *ta.CredentialStore
	issuer   *ta.TokenIssuer
	notifier *ta.MemoryNotifier
	svc      *ta.AuthService
	authz    *ta.Authorizer
	api      *ta.API
	facebook *fakeResolver
	google   *fakeResolver

	clockMu sync.Mutex
	now     time.Time
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		store:    fs.NewStore(t.TempDir()),
		notifier: &ta.MemoryNotifier{},
		facebook: &fakeResolver{},
		google:   &fakeResolver{},
		now:      time.Now(),
	}
	env.creds = ta.NewCredentialStore(env.store, &ta.PasswordHasher{Cost: bcrypt.MinCost})
	env.creds.Logger = logger
	env.issuer = &ta.TokenIssuer{
		Secret: []byte(testSecret),
		Tokens: env.store,
		Now:    env.clock,
	}
	env.issuer.EnsureReasonableDefaults()
	env.svc = &ta.AuthService{
		Credentials: env.creds,
		Issuer:      env.issuer,
		Notifier:    env.notifier,
		Logger:      logger,
	}
	env.authz = &ta.Authorizer{
		Issuer:      env.issuer,
		Credentials: env.creds,
		Providers: map[string]ta.OAuthResolver{
			ta.ServiceFacebook: env.facebook,
			ta.ServiceGoogle:   env.google,
		},
		Logger: logger,
	}
	env.api = &ta.API{Auth: env.svc, Authorizer: env.authz, Logger: logger}
	return env
}

func (e *testEnv) clock() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	e.now = e.now.Add(d)
}

// register creates a user through the service and returns the result
func (e *testEnv) register(t *testing.T, email, password string) *ta.AuthResult {
	t.Helper()
	res, err := e.svc.Register(context.Background(), ta.RegisterRequest{
		Email:    email,
		Password: password,
		Name:     "Test User",
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", email, err)
	}
	return res
}

// createAdmin inserts an admin directly, since registration never grants it
func (e *testEnv) createAdmin(t *testing.T, email string) *ta.User {
	t.Helper()
	u, err := e.creds.Create(context.Background(), email, "password123", "Admin", ta.RoleAdmin)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return u
}

func (e *testEnv) accessToken(t *testing.T, u *ta.User) string {
	t.Helper()
	tok, _, err := e.issuer.IssueAccessToken(u.ID)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	return tok
}

// doJSON sends body as JSON to h and returns the recorded response
func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func assertCode(t *testing.T, err error, want *ta.AuthError) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Errorf("error = %v, want code %s", err, want.Code)
	}
}
