package tokenauth_test

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	ta "github.com/panyam/tokenauth"
)

func TestPasswordHasher(t *testing.T) {
	h := &ta.PasswordHasher{Cost: bcrypt.MinCost}
	digest, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(digest, "$2") {
		t.Errorf("digest %q is not bcrypt", digest)
	}
	if !h.Verify("correct horse", digest) {
		t.Error("Verify() rejected the right password")
	}
	if h.Verify("correct horsE", digest) {
		t.Error("Verify() accepted a wrong password")
	}
	if h.Verify("correct horse", "not-a-digest") {
		t.Error("Verify() accepted a malformed digest")
	}

	again, _ := h.Hash("correct horse")
	if again == digest {
		t.Error("digests must be salted")
	}
}

func TestPasswordHasherVerifyDecoy(t *testing.T) {
	h := &ta.PasswordHasher{Cost: bcrypt.MinCost}
	for _, pw := range []string{"", "password123", strings.Repeat("x", 100)} {
		if h.VerifyDecoy(pw) {
			t.Errorf("VerifyDecoy(%q) = true", pw)
		}
	}
	var nilHasher *ta.PasswordHasher
	if nilHasher.VerifyDecoy("password123") {
		t.Error("nil hasher VerifyDecoy() = true")
	}
}

func TestPasswordHasherRejectsLongInput(t *testing.T) {
	h := &ta.PasswordHasher{}
	_, err := h.Hash(strings.Repeat("a", ta.MaxPasswordBytes+1))
	assertCode(t, err, ta.ErrValidation)

	if _, err := h.Hash(strings.Repeat("a", ta.MaxPasswordBytes)); err != nil {
		t.Errorf("72 byte password error = %v", err)
	}
}

func TestNewPasswordHasherUsesMinCostInTests(t *testing.T) {
	h := ta.NewPasswordHasher(&ta.Config{Env: "test", BcryptCost: 12})
	digest, err := h.Hash("password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	cost, _ := bcrypt.Cost([]byte(digest))
	if cost != bcrypt.MinCost {
		t.Errorf("cost = %d, want %d", cost, bcrypt.MinCost)
	}

	prod := ta.NewPasswordHasher(&ta.Config{Env: "production", BcryptCost: 11})
	if prod.Cost != 11 {
		t.Errorf("production cost = %d, want 11", prod.Cost)
	}
}
