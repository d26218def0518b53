// Package fs provides file-based implementations of the tokenauth store
// interfaces. Records are kept as JSON files under a single directory,
// which makes it suitable for development, tests and single-node deployments.
//
// # Usage
//
//	store := fs.NewStore("/var/lib/tokenauth")
//	creds := tokenauth.NewCredentialStore(store, hasher)
//	issuer := tokenauth.NewTokenIssuer(cfg, store)
package fs

// Store combines the user and token stores over one directory
type Store struct {
	*FSUserStore
	*FSTokenStore
}

// NewStore creates both stores rooted at storagePath
func NewStore(storagePath string) *Store {
	return &Store{
		FSUserStore:  NewFSUserStore(storagePath),
		FSTokenStore: NewFSTokenStore(storagePath),
	}
}
