package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type contextKey string

const userContextKey contextKey = "tokenauth.user"

// WithUser returns a context carrying the authenticated user
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext returns the authenticated user, or nil
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey).(*User)
	return u
}

// Scheme names how a bearer token is authenticated
type Scheme string

const (
	// AccessTokenAuth validates a JWT issued by this service
	AccessTokenAuth Scheme = "access_token"
	// OAuthBearerAuth resolves an external provider token to a profile
	OAuthBearerAuth Scheme = "oauth_bearer"
)

// OAuthResolver fetches the profile behind a provider access token
type OAuthResolver interface {
	Resolve(ctx context.Context, accessToken string) (*OAuthProfile, error)
}

// Rule is an authorization requirement checked after authentication
type Rule struct {
	// Roles the user must hold one of. Empty means any role.
	Roles []Role
	// OwnerOrAdmin admits admins, and other users only for their own resource
	OwnerOrAdmin bool
}

// LoggedUser admits the resource owner or any admin
var LoggedUser = Rule{OwnerOrAdmin: true}

// Roles admits users holding any of the given roles
func Roles(roles ...Role) Rule {
	return Rule{Roles: roles}
}

// AnyRole admits every authenticated user
func AnyRole() Rule {
	return Rule{Roles: AllRoles}
}

// Authorizer authenticates bearer tokens and enforces Rules
type Authorizer struct {
	Issuer      *TokenIssuer
	Credentials *CredentialStore
	Providers   map[string]OAuthResolver
	Logger      *slog.Logger

	// UserIDParam is the route variable naming the target user. Defaults to "userId".
	UserIDParam string
	// TargetUserID extracts the target user id. Defaults to the mux route variable.
	TargetUserID func(r *http.Request) string
	// OAuthTimeout bounds provider profile lookups
	OAuthTimeout time.Duration
}

// EnsureReasonableDefaults fills in unset fields
func (a *Authorizer) EnsureReasonableDefaults() {
	if a.UserIDParam == "" {
		a.UserIDParam = "userId"
	}
	if a.TargetUserID == nil {
		param := a.UserIDParam
		a.TargetUserID = func(r *http.Request) string {
			return mux.Vars(r)[param]
		}
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
}

// Authenticate resolves a bearer token under the given scheme.
// service names the provider for OAuthBearerAuth and is ignored otherwise.
func (a *Authorizer) Authenticate(ctx context.Context, scheme Scheme, service, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	switch scheme {
	case AccessTokenAuth:
		return a.AuthenticateAccessToken(ctx, token)
	case OAuthBearerAuth:
		return a.AuthenticateOAuth(ctx, service, token)
	}
	return nil, fmt.Errorf("unknown auth scheme %q", scheme)
}

// AuthenticateAccessToken validates a JWT and loads its subject
func (a *Authorizer) AuthenticateAccessToken(ctx context.Context, token string) (*User, error) {
	userID, err := a.Issuer.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	u, err := a.Credentials.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return u, nil
}

// AuthenticateOAuth resolves a provider token and links or creates the account
func (a *Authorizer) AuthenticateOAuth(ctx context.Context, service, token string) (*User, error) {
	resolver, ok := a.Providers[service]
	if !ok {
		return nil, ValidationError("service", "unsupported identity provider")
	}
	if a.OAuthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.OAuthTimeout)
		defer cancel()
	}
	profile, err := resolver.Resolve(ctx, token)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, ErrUpstream.Wrap(err)
	}
	profile.Service = service
	return a.Credentials.UpsertOAuthLink(context.WithoutCancel(ctx), *profile)
}

// Check enforces rule for user against the target resource owner id
func (a *Authorizer) Check(u *User, rule Rule, targetUserID string) error {
	if u == nil {
		return ErrUnauthorized
	}
	if rule.OwnerOrAdmin {
		if !u.IsAdmin() && targetUserID != u.ID {
			return ErrForbidden
		}
		return nil
	}
	roles := rule.Roles
	if len(roles) == 0 {
		roles = AllRoles
	}
	for _, r := range roles {
		if u.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

// Authorize returns middleware that requires a valid access token whose
// user satisfies rule. The user is available downstream via UserFromContext.
func (a *Authorizer) Authorize(rule Rule) func(http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := a.Authenticate(r.Context(), AccessTokenAuth, "", BearerToken(r))
			if err != nil {
				a.deny(w, r, err)
				return
			}
			if err := a.Check(u, rule, a.TargetUserID(r)); err != nil {
				a.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// OAuth returns middleware that authenticates a provider access token for
// service, links or creates the account and places it in the context
func (a *Authorizer) OAuth(service string) func(http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				var req OAuthRequest
				if err := readJSON(r, &req); err != nil {
					writeError(w, err)
					return
				}
				if err := req.Validate(); err != nil {
					writeError(w, err)
					return
				}
				token = req.AccessToken
			}
			u, err := a.Authenticate(r.Context(), OAuthBearerAuth, service, token)
			if err != nil {
				a.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

func (a *Authorizer) deny(w http.ResponseWriter, r *http.Request, err error) {
	if StatusCode(err) >= http.StatusInternalServerError {
		a.Logger.ErrorContext(r.Context(), "authentication failed", "path", r.URL.Path, "error", err)
	} else {
		a.Logger.DebugContext(r.Context(), "request denied", "path", r.URL.Path, "error", err)
	}
	writeError(w, err)
}

// BearerToken extracts the token from an "Authorization: Bearer" header,
// falling back to the access_token query parameter
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("access_token")
}
