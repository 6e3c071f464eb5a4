package security

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"pairchat/internal/domain"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// PasswordHasher wraps bcrypt hashing and verification.
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// CheckStrength rejects passwords bcrypt would accept but we do not.
func (h *PasswordHasher) CheckStrength(plain string) error {
	if utf8.RuneCountInString(plain) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, MinPasswordLength)
	}
	// bcrypt silently ignores everything past 72 bytes.
	if len(plain) > 72 {
		return fmt.Errorf("%w: password is too long", domain.ErrInvalidInput)
	}
	return nil
}

func (h *PasswordHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *PasswordHasher) Verify(plain, hashed string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
