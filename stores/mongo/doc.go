// Package mongo provides the MongoDB implementation of the tokenauth store
// interfaces and is the default backend.
//
// # Collections
//
//   - users: accounts, unique index on email
//   - refresh_tokens: refresh tokens, TTL index on expires (after TokenRetention)
//   - password_reset_tokens: reset tokens, TTL index on expires (after TokenRetention)
//
// Tokens are consumed with FindOneAndDelete, which MongoDB applies
// atomically to a single document.
//
// # Usage
//
//	client, _ := mongo.Connect(ctx, "mongodb://localhost:27017")
//	store := mongo.NewStore(client.Database("tokenauth"))
//	_ = store.EnsureIndexes(ctx)
package mongo
