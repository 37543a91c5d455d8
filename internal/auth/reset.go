package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// resetTokenBytes is the amount of randomness in a password reset token.
const resetTokenBytes = 32

// NewResetToken returns a random plaintext reset token and the digest that is
// persisted in its place.
func NewResetToken() (plain, digest string, err error) {
	var buf [resetTokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", err
	}
	plain = hex.EncodeToString(buf[:])
	return plain, HashResetToken(plain), nil
}

// HashResetToken returns the SHA-256 hex digest of a plaintext reset token.
func HashResetToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
