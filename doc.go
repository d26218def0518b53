// Package tokenauth provides a small token-based authentication backend.
//
// Accounts are registered with an email and password, or created on first
// login through an external identity provider (Facebook, Google). Every
// successful login returns a short-lived JWT access token and a long-lived,
// single-use refresh token.
//
// # Tokens
//
// Access tokens are HS256 JWTs carrying the user id as subject. They are
// stateless and validated by signature and expiry only.
//
// Refresh tokens (30 days) and password reset tokens (2 hours) are opaque
// values of the form "<userID>.<uuid>" kept in a TokenStore. They are bound to
// the owner's email and consumed atomically: whichever request deletes the
// token first wins, every other presenter gets ErrInvalidToken.
//
// # Basic Usage
//
//	cfg, _ := tokenauth.LoadConfig()
//	store := fs.NewStore(cfg.FSStoragePath)
//
//	hasher := tokenauth.NewPasswordHasher(cfg)
//	creds := tokenauth.NewCredentialStore(store, hasher)
//	issuer := tokenauth.NewTokenIssuer(cfg, store)
//	svc := tokenauth.NewAuthService(cfg, creds, issuer, &tokenauth.LogNotifier{})
//
//	authz := &tokenauth.Authorizer{Issuer: issuer, Credentials: creds}
//	api := &tokenauth.API{Auth: svc, Authorizer: authz}
//	http.ListenAndServe(":8000", api.Handler())
//
// # Authorization
//
// Authorizer.Authorize wraps handlers with a Rule. Roles(...) restricts by role;
// LoggedUser additionally lets a user through only for their own resource
// (the "userId" route variable) unless they are an admin.
//
// # Store Implementations
//
// Backends live under stores/: mongo (MongoDB), gae (Cloud Datastore),
// gorm (any GORM dialect) and fs (JSON files, for development and tests).
package tokenauth
