package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	ta "github.com/panyam/tokenauth"
)

// FacebookGraphURL is the production Graph API base
const FacebookGraphURL = "https://graph.facebook.com"

// FacebookResolver looks up the Graph API "me" node for a user access token
type FacebookResolver struct {
	// BaseURL defaults to FacebookGraphURL
	BaseURL    string
	HTTPClient *http.Client
}

type facebookProfile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

type facebookError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (f *FacebookResolver) Resolve(ctx context.Context, accessToken string) (*ta.OAuthProfile, error) {
	base := f.BaseURL
	if base == "" {
		base = FacebookGraphURL
	}
	endpoint := strings.TrimRight(base, "/") + "/me?" + url.Values{"fields": {"id,name,email,picture"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("facebook: %w", err)
	}
	resp, err := tokenClient(ctx, f.HTTPClient, accessToken).Do(req)
	if err != nil {
		return nil, ta.ErrUpstream.Wrap(fmt.Errorf("facebook: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var fbErr facebookError
		detail := string(body)
		if json.Unmarshal(body, &fbErr) == nil && fbErr.Error.Message != "" {
			detail = fbErr.Error.Message
		}
		return nil, statusError(ta.ServiceFacebook, resp.StatusCode, detail)
	}

	var p facebookProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, ta.ErrUpstream.Wrap(fmt.Errorf("facebook: decode profile: %w", err))
	}
	if p.ID == "" {
		return nil, ta.ErrUpstream.Wrap(fmt.Errorf("facebook: profile has no id"))
	}
	return &ta.OAuthProfile{
		Service: ta.ServiceFacebook,
		ID:      p.ID,
		Name:    p.Name,
		Email:   p.Email,
		Picture: p.Picture.Data.URL,
	}, nil
}
