package password

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPassword is returned when an empty secret is hashed.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrPasswordTooLong is returned when a secret exceeds the hasher's input bound.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
)

// Hasher is the one-way hash/verify capability used for table-based
// credentials. Verify returns (false, nil) on a plain mismatch.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Matches reports whether password verifies against encodedHash, treating a
// missing or unreadable hash as a mismatch.
func Matches(h Hasher, password, encodedHash string) bool {
	if h == nil || encodedHash == "" {
		return false
	}
	ok, err := h.Verify(password, encodedHash)
	return err == nil && ok
}

// Algorithm names accepted by New.
const (
	AlgorithmArgon2 = "argon2id"
	AlgorithmBcrypt = "bcrypt"
)

// New builds the hasher named by algorithm. An empty name selects Argon2id.
func New(algorithm string, argon Config, bcryptCost int) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmArgon2, "argon2":
		return NewArgon2(argon)
	case AlgorithmBcrypt:
		return NewBcrypt(bcryptCost)
	default:
		return nil, fmt.Errorf("unsupported password hash algorithm %q", algorithm)
	}
}

// Multi hashes with its primary hasher and verifies against whichever hasher
// understands the stored encoding, so bcrypt rows keep working after a move
// to Argon2id.
type Multi struct {
	Primary  Hasher
	Fallback []Hasher
}

// Hash delegates to the primary hasher.
func (m Multi) Hash(password string) (string, error) {
	if m.Primary == nil {
		return "", errors.New("no primary hasher configured")
	}
	return m.Primary.Hash(password)
}

// Verify tries the primary hasher, then each fallback.
func (m Multi) Verify(password, encodedHash string) (bool, error) {
	var firstErr error
	for _, h := range append([]Hasher{m.Primary}, m.Fallback...) {
		if h == nil {
			continue
		}
		ok, err := h.Verify(password, encodedHash)
		if err == nil {
			return ok, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errors.New("no hasher configured")
	}
	return false, firstErr
}
