// Package oauth2 resolves identity provider access tokens into tokenauth
// profiles. Clients obtain the provider token themselves (a mobile SDK or a
// browser flow) and hand it to the API, which looks up the profile here.
//
// Register the resolvers on an Authorizer by service name:
//
//	authz.Providers = oauth2.Providers(&http.Client{Timeout: 10 * time.Second})
package oauth2

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	ta "github.com/panyam/tokenauth"
)

// Providers returns a resolver for every supported service, keyed by name
func Providers(client *http.Client) map[string]ta.OAuthResolver {
	return map[string]ta.OAuthResolver{
		ta.ServiceFacebook: &FacebookResolver{HTTPClient: client},
		ta.ServiceGoogle:   &GoogleResolver{HTTPClient: client},
	}
}

// tokenClient returns a client that presents accessToken as a bearer token
// on every request, layered over base when given.
func tokenClient(ctx context.Context, base *http.Client, accessToken string) *http.Client {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return oauth2.NewClient(ctx, src)
}

// statusError classifies a non-200 provider response. Providers answer 400
// (Facebook) or 401 (Google) for a bad token; those are the caller's fault.
func statusError(service string, code int, detail string) error {
	err := fmt.Errorf("%s: status %d: %s", service, code, detail)
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return ta.ErrUnauthorized.Wrap(err)
	}
	return ta.ErrUpstream.Wrap(err)
}
