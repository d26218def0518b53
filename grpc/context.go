// Package grpc carries tokenauth authentication over gRPC. Clients send the
// access token in "authorization: Bearer <token>" metadata; the server
// interceptors validate it with the same Authorizer and Rules the HTTP
// middleware uses and place the user in the handler context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	ta "github.com/panyam/tokenauth"
)

// DefaultMetadataKeyAuthorization is the metadata key holding the bearer token
const DefaultMetadataKeyAuthorization = "authorization"

// BearerFromContext returns the bearer token in the incoming metadata under
// key, or "" when absent
func BearerFromContext(ctx context.Context, key string) string {
	if key == "" {
		key = DefaultMetadataKeyAuthorization
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(key) {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}

// BearerToOutgoingContext attaches an access token to outgoing metadata
func BearerToOutgoingContext(ctx context.Context, accessToken string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+accessToken)
}

// UserFromContext returns the user placed by the interceptors, or nil
func UserFromContext(ctx context.Context) *ta.User {
	return ta.UserFromContext(ctx)
}

// UserIDFromContext returns the authenticated user's id, or ""
func UserIDFromContext(ctx context.Context) string {
	if u := ta.UserFromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}

// IsAuthenticated reports whether the interceptors authenticated a user
func IsAuthenticated(ctx context.Context) bool {
	return UserFromContext(ctx) != nil
}
