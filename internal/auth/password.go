package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies passwords with bcrypt.
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordHasher returns a hasher using the given bcrypt cost.
// Costs outside bcrypt's accepted range fall back to bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash.
func (h *PasswordHasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// VerifyDummy burns the same work as Verify against a throwaway hash.
// Login calls it for unknown emails so timing does not reveal which
// addresses are registered.
func (h *PasswordHasher) VerifyDummy(plaintext string) {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(plaintext))
}
