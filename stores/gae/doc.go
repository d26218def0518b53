//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the tokenauth
// store interfaces. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - User: user accounts, keyed by user id
//   - UserEmail: email reservations, keyed by normalized email
//   - RefreshToken: refresh tokens, keyed by token value
//   - PasswordResetToken: password reset tokens, keyed by token value
//
// User creation and email changes update User and UserEmail in one
// transaction, which is what enforces email uniqueness. Tokens are consumed
// with a transactional Get then Delete.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewStore(client, "")  // default namespace
package gae
