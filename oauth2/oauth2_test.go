package oauth2_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ta "github.com/panyam/tokenauth"
	"github.com/panyam/tokenauth/oauth2"
)

// mockProvider serves a single profile path and accepts one bearer token
type mockProvider struct {
	server *httptest.Server
	token  string
	status int
	body   any
	hits   int
}

func newMockProvider(t *testing.T, path string) *mockProvider {
	m := &mockProvider{token: "good-token", status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		m.hits++
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer "+m.token {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": 401, "message": "Invalid Credentials"},
			})
			return
		}
		w.WriteHeader(m.status)
		json.NewEncoder(w).Encode(m.body)
	})
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func TestFacebookResolver(t *testing.T) {
	m := newMockProvider(t, "/me")
	m.body = map[string]any{
		"id":    "fb-123",
		"name":  "Test User",
		"email": "Test@Example.com",
		"picture": map[string]any{
			"data": map[string]any{"url": "https://cdn.example.com/p.jpg"},
		},
	}
	r := &oauth2.FacebookResolver{BaseURL: m.server.URL}

	t.Run("resolves profile", func(t *testing.T) {
		p, err := r.Resolve(context.Background(), "good-token")
		require.NoError(t, err)
		assert.Equal(t, ta.ServiceFacebook, p.Service)
		assert.Equal(t, "fb-123", p.ID)
		assert.Equal(t, "Test User", p.Name)
		assert.Equal(t, "Test@Example.com", p.Email)
		assert.Equal(t, "https://cdn.example.com/p.jpg", p.Picture)
	})

	t.Run("rejected token is unauthorized", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), "bad-token")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ta.ErrUnauthorized))
	})

	t.Run("provider outage is upstream error", func(t *testing.T) {
		m.status = http.StatusBadGateway
		m.body = map[string]any{"error": map[string]any{"message": "down"}}
		defer func() { m.status = http.StatusOK }()
		_, err := r.Resolve(context.Background(), "good-token")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ta.ErrUpstream))
	})

	t.Run("missing id is upstream error", func(t *testing.T) {
		m.body = map[string]any{"name": "No ID"}
		_, err := r.Resolve(context.Background(), "good-token")
		assert.True(t, errors.Is(err, ta.ErrUpstream))
	})
}

func TestFacebookResolverUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := &oauth2.FacebookResolver{BaseURL: url}
	_, err := r.Resolve(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ta.ErrUpstream))
}

func TestGoogleResolver(t *testing.T) {
	m := newMockProvider(t, "/oauth2/v2/userinfo")
	verified := true
	m.body = map[string]any{
		"id":             "g-456",
		"name":           "Google User",
		"email":          "guser@example.com",
		"verified_email": verified,
		"picture":        "https://lh3.example.com/photo.jpg",
	}
	r := &oauth2.GoogleResolver{Endpoint: m.server.URL + "/"}

	t.Run("resolves profile", func(t *testing.T) {
		p, err := r.Resolve(context.Background(), "good-token")
		require.NoError(t, err)
		assert.Equal(t, ta.ServiceGoogle, p.Service)
		assert.Equal(t, "g-456", p.ID)
		assert.Equal(t, "Google User", p.Name)
		assert.Equal(t, "guser@example.com", p.Email)
		assert.Equal(t, "https://lh3.example.com/photo.jpg", p.Picture)
	})

	t.Run("rejected token is unauthorized", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), "expired-token")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ta.ErrUnauthorized))
	})

	t.Run("unverified email is dropped", func(t *testing.T) {
		m.body = map[string]any{
			"id":             "g-789",
			"email":          "unverified@example.com",
			"verified_email": false,
		}
		p, err := r.Resolve(context.Background(), "good-token")
		require.NoError(t, err)
		assert.Equal(t, "g-789", p.ID)
		assert.Empty(t, p.Email)
	})
}

func TestProviders(t *testing.T) {
	providers := oauth2.Providers(http.DefaultClient)
	assert.Len(t, providers, 2)
	assert.Contains(t, providers, ta.ServiceFacebook)
	assert.Contains(t, providers, ta.ServiceGoogle)
}
