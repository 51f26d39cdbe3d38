package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
)

const resetTokenSize = 16

// NewResetToken returns 128 random bits encoded as unpadded base64url.
func NewResetToken() (string, error) {
	var raw [resetTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidResetToken reports whether token has the shape NewResetToken emits.
func ValidResetToken(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == resetTokenSize
}

// RandomIndex returns a uniform integer in [0, n) from crypto/rand.
func RandomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("random index bound must be > 0")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
