package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ta "github.com/panyam/tokenauth"
)

// RefreshThreshold is how long before expiry to proactively refresh
const RefreshThreshold = 5 * time.Minute

// ErrNotLoggedIn is returned when an operation needs a stored credential
var ErrNotLoggedIn = errors.New("tokenauth: not logged in")

// AuthClient is an HTTP client with automatic token management
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	prefix        string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithPrefix sets the API mount point. Defaults to "/v1".
func WithPrefix(prefix string) ClientOption {
	return func(c *AuthClient) {
		c.prefix = "/" + strings.Trim(prefix, "/")
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a new authenticated HTTP client for a server
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:     serverURL,
		prefix:        "/v1",
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &refreshTransport{
		client: c,
		base:   c.baseTransport,
	}
	return c
}

// HTTPClient returns an HTTP client that authenticates every request
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// APIBase is the server URL plus API prefix. Credentials are stored under
// it, so two deployments sharing a host stay separate.
func (c *AuthClient) APIBase() string {
	return c.serverURL + c.prefix
}

// URL resolves an API path such as "/users/profile" against the server
func (c *AuthClient) URL(path string) string {
	return c.APIBase() + path
}

// GetCredential returns the stored credential for this server and prefix
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.APIBase())
}

// IsLoggedIn returns true if there is a non-expired credential
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.APIBase())
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired()
}

// GetToken returns the current access token, refreshing if needed.
// It returns "" when there is no usable credential.
func (c *AuthClient) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.APIBase())
	if err != nil || cred == nil {
		return "", err
	}

	if cred.IsExpiringSoon(RefreshThreshold) && cred.CanRefresh() {
		refreshed, err := c.refreshLocked(ctx, cred)
		if err != nil {
			// Still usable until it actually expires
			if !cred.IsExpired() {
				return cred.AccessToken, nil
			}
			return "", fmt.Errorf("token expired and refresh failed: %w", err)
		}
		cred = refreshed
	}

	if cred.IsExpired() {
		return "", nil
	}
	return cred.AccessToken, nil
}

// forceRefresh rotates the credential after the server rejected stale.
// If another caller already rotated it, the newer token is returned as is.
func (c *AuthClient) forceRefresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.APIBase())
	if err != nil {
		return "", err
	}
	if cred == nil || !cred.CanRefresh() {
		return "", ErrNotLoggedIn
	}
	if cred.AccessToken != stale {
		return cred.AccessToken, nil
	}
	refreshed, err := c.refreshLocked(ctx, cred)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Register creates an account and stores its tokens
func (c *AuthClient) Register(ctx context.Context, email, password, name string) (*ta.PublicUser, error) {
	req := ta.RegisterRequest{Email: email, Password: password, Name: name}
	return c.authenticate(ctx, "/auth/register", req)
}

// Login authenticates with email and password and stores the tokens
func (c *AuthClient) Login(ctx context.Context, email, password string) (*ta.PublicUser, error) {
	req := ta.LoginRequest{Email: email, Password: password}
	return c.authenticate(ctx, "/auth/login", req)
}

// OAuthLogin exchanges a provider access token for tokenauth tokens
func (c *AuthClient) OAuthLogin(ctx context.Context, service, providerToken string) (*ta.PublicUser, error) {
	req := ta.OAuthRequest{AccessToken: providerToken}
	return c.authenticate(ctx, "/auth/"+service, req)
}

func (c *AuthClient) authenticate(ctx context.Context, path string, body any) (*ta.PublicUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res ta.AuthResult
	if err := c.do(ctx, c.plainClient(), http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	if res.Token == nil {
		return nil, errors.New("tokenauth: response has no token")
	}
	cred := credentialFrom(res.Token)
	cred.UserID = res.User.ID
	cred.UserEmail = res.User.Email
	if err := c.storeLocked(cred); err != nil {
		return nil, err
	}
	return &res.User, nil
}

// Refresh rotates the stored refresh token unconditionally
func (c *AuthClient) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.APIBase())
	if err != nil {
		return err
	}
	if cred == nil || !cred.CanRefresh() {
		return ErrNotLoggedIn
	}
	_, err = c.refreshLocked(ctx, cred)
	return err
}

// refreshLocked exchanges the refresh token for a new bundle.
// Caller must hold c.mu
func (c *AuthClient) refreshLocked(ctx context.Context, cred *ServerCredential) (*ServerCredential, error) {
	req := ta.RefreshRequest{Email: cred.UserEmail, RefreshToken: cred.RefreshToken}
	var bundle ta.TokenBundle
	if err := c.do(ctx, c.plainClient(), http.MethodPost, "/auth/refresh", req, &bundle); err != nil {
		return nil, err
	}
	next := credentialFrom(&bundle)
	next.UserID = cred.UserID
	next.UserEmail = cred.UserEmail
	if err := c.storeLocked(next); err != nil {
		return nil, err
	}
	return next, nil
}

// Logout forgets the credential for this server.
// Refresh tokens expire server side; there is no revocation endpoint.
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveCredential(c.APIBase()); err != nil {
		return err
	}
	return c.store.Save()
}

// Profile fetches the logged in user
func (c *AuthClient) Profile(ctx context.Context) (*ta.PublicUser, error) {
	var u ta.PublicUser
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/users/profile", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SendPasswordReset asks the server to email a reset token
func (c *AuthClient) SendPasswordReset(ctx context.Context, email string) error {
	req := ta.SendPasswordResetRequest{Email: email}
	return c.do(ctx, c.plainClient(), http.MethodPost, "/auth/send-password-reset", req, nil)
}

// ResetPassword sets a new password using an emailed reset token
func (c *AuthClient) ResetPassword(ctx context.Context, email, password, resetToken string) error {
	req := ta.ResetPasswordRequest{Email: email, Password: password, ResetToken: resetToken}
	return c.do(ctx, c.plainClient(), http.MethodPost, "/auth/reset-password", req, nil)
}

func (c *AuthClient) storeLocked(cred *ServerCredential) error {
	if err := c.store.SetCredential(c.APIBase(), cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// plainClient bypasses the refresh transport to avoid an auth loop
func (c *AuthClient) plainClient() *http.Client {
	return &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
}

func (c *AuthClient) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, &apiErr.ErrorResponse)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

func credentialFrom(b *ta.TokenBundle) *ServerCredential {
	return &ServerCredential{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		TokenType:    b.TokenType,
		ExpiresAt:    b.ExpiresIn,
		CreatedAt:    time.Now(),
	}
}
