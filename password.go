package tokenauth

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest input bcrypt accepts
const MaxPasswordBytes = 72

// PasswordHasher hashes and verifies passwords with bcrypt
type PasswordHasher struct {
	Cost int
}

// NewPasswordHasher returns a hasher for the configured cost.
// The test environment always uses bcrypt.MinCost.
func NewPasswordHasher(cfg *Config) *PasswordHasher {
	cost := cfg.BcryptCost
	if cfg.IsTest() {
		cost = bcrypt.MinCost
	}
	return &PasswordHasher{Cost: cost}
}

func (h *PasswordHasher) cost() int {
	if h == nil || h.Cost < bcrypt.MinCost {
		return bcrypt.MinCost
	}
	if h.Cost > bcrypt.MaxCost {
		return bcrypt.MaxCost
	}
	return h.Cost
}

// Hash returns the bcrypt digest of plaintext
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ValidationError("password", "password must be at most 72 bytes")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost())
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// Verify compares plaintext against a stored digest in constant time
func (h *PasswordHasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

var (
	decoyMu      sync.Mutex
	decoyDigests = map[int][]byte{}
)

// decoyDigest returns a digest of a random value at the given cost
func decoyDigest(cost int) []byte {
	decoyMu.Lock()
	defer decoyMu.Unlock()
	if d, ok := decoyDigests[cost]; ok {
		return d
	}
	d, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil
	}
	decoyDigests[cost] = d
	return d
}

// VerifyDecoy spends the same bcrypt work as Verify against a digest nobody
// knows the plaintext of. Lookups that miss call it so they take as long as
// a wrong password. It always returns false.
func (h *PasswordHasher) VerifyDecoy(plaintext string) bool {
	if d := decoyDigest(h.cost()); d != nil {
		bcrypt.CompareHashAndPassword(d, []byte(plaintext))
	}
	return false
}
