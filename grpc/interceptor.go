package grpc

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ta "github.com/panyam/tokenauth"
)

// InterceptorConfig configures the auth interceptors.
type InterceptorConfig struct {
	Authorizer *ta.Authorizer

	// DefaultRule applies to methods without an entry in Rules.
	// The zero Rule admits any authenticated user.
	DefaultRule ta.Rule

	// Rules maps full method names ("/package.Service/Method") to rules
	Rules map[string]ta.Rule

	// PublicMethods skip authentication. A valid token on a public method
	// still places the user in the context.
	PublicMethods map[string]bool

	// TargetUserID extracts the resource owner for OwnerOrAdmin rules.
	// Defaults to the request's GetUserId() when it has one.
	TargetUserID func(ctx context.Context, req any) string

	// MetadataKey defaults to "authorization"
	MetadataKey string
}

// NewInterceptorConfig creates a config requiring authentication for every
// method except publicMethods
func NewInterceptorConfig(authz *ta.Authorizer, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Authorizer:    authz,
		Rules:         make(map[string]ta.Rule),
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// EnsureReasonableDefaults fills in unset fields
func (c *InterceptorConfig) EnsureReasonableDefaults() {
	if c.MetadataKey == "" {
		c.MetadataKey = DefaultMetadataKeyAuthorization
	}
	if c.TargetUserID == nil {
		c.TargetUserID = requestUserID
	}
	if c.Rules == nil {
		c.Rules = make(map[string]ta.Rule)
	}
}

// Require sets the rule for a method and returns the config for chaining
func (c *InterceptorConfig) Require(method string, rule ta.Rule) *InterceptorConfig {
	if c.Rules == nil {
		c.Rules = make(map[string]ta.Rule)
	}
	c.Rules[method] = rule
	return c
}

type userIDGetter interface {
	GetUserId() string
}

func requestUserID(_ context.Context, req any) string {
	if g, ok := req.(userIDGetter); ok {
		return g.GetUserId()
	}
	return ""
}

func (c *InterceptorConfig) ruleFor(method string) ta.Rule {
	if rule, ok := c.Rules[method]; ok {
		return rule
	}
	return c.DefaultRule
}

// authenticate returns ctx with the user attached, or a status error
func (c *InterceptorConfig) authenticate(ctx context.Context, method string, req any) (context.Context, error) {
	token := BearerFromContext(ctx, c.MetadataKey)

	if c.PublicMethods[method] {
		if token != "" {
			if u, err := c.Authorizer.AuthenticateAccessToken(ctx, token); err == nil {
				ctx = ta.WithUser(ctx, u)
			}
		}
		return ctx, nil
	}

	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	u, err := c.Authorizer.AuthenticateAccessToken(ctx, token)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := c.Authorizer.Check(u, c.ruleFor(method), c.TargetUserID(ctx, req)); err != nil {
		return nil, toStatus(err)
	}
	return ta.WithUser(ctx, u), nil
}

// toStatus maps tokenauth errors onto gRPC status codes
func toStatus(err error) error {
	var ae *ta.AuthError
	if !errors.As(err, &ae) {
		return status.Error(codes.Internal, "internal error")
	}
	switch ta.StatusCode(err) {
	case http.StatusUnauthorized:
		return status.Error(codes.Unauthenticated, ae.Message)
	case http.StatusForbidden:
		return status.Error(codes.PermissionDenied, ae.Message)
	case http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, ae.Message)
	case http.StatusNotFound:
		return status.Error(codes.NotFound, ae.Message)
	case http.StatusConflict:
		return status.Error(codes.AlreadyExists, ae.Message)
	}
	return status.Error(codes.Internal, "internal error")
}

// UnaryAuthInterceptor returns a gRPC unary interceptor enforcing config
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.EnsureReasonableDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod, req)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor enforcing config.
// Streams have no request at interception time, so OwnerOrAdmin rules see
// an empty target and admit only admins.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.EnsureReasonableDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod, nil)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context {
	return s.ctx
}
