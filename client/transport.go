package client

import (
	"net/http"
)

// AuthTransport adds a fixed bearer token to every request
type AuthTransport struct {
	Base  http.RoundTripper
	Token string
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		req = withBearer(req, t.Token)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}

// refreshTransport attaches the stored access token, refreshing it when it
// is about to expire, and retries once after a 401
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, err := t.client.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return t.base.RoundTrip(req)
	}

	resp, err := t.base.RoundTrip(withBearer(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// A consumed body cannot be replayed
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}
	newToken, refreshErr := t.client.forceRefresh(ctx, token)
	if refreshErr != nil || newToken == "" {
		return resp, nil
	}
	resp.Body.Close()

	retry := withBearer(req, newToken)
	if req.GetBody != nil {
		if retry.Body, err = req.GetBody(); err != nil {
			return nil, err
		}
	}
	return t.base.RoundTrip(retry)
}
