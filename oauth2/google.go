package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	ta "github.com/panyam/tokenauth"
)

// GoogleResolver fetches the userinfo profile for a Google access token
type GoogleResolver struct {
	// Endpoint overrides the API base URL (tests, proxies)
	Endpoint   string
	HTTPClient *http.Client
}

func (g *GoogleResolver) Resolve(ctx context.Context, accessToken string) (*ta.OAuthProfile, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(tokenClient(ctx, g.HTTPClient, accessToken)),
	}
	if g.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.Endpoint))
	}
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: new service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return nil, statusError(ta.ServiceGoogle, apiErr.Code, apiErr.Message)
		}
		return nil, ta.ErrUpstream.Wrap(fmt.Errorf("google: %w", err))
	}
	if info.Id == "" {
		return nil, ta.ErrUpstream.Wrap(fmt.Errorf("google: profile has no id"))
	}

	// Only verified addresses may be used to link existing accounts
	email := info.Email
	if info.VerifiedEmail != nil && !*info.VerifiedEmail {
		email = ""
	}
	return &ta.OAuthProfile{
		Service: ta.ServiceGoogle,
		ID:      info.Id,
		Name:    info.Name,
		Email:   email,
		Picture: info.Picture,
	}, nil
}
