package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// GenerateToken generates a cryptographically secure random token of the
// given byte length, hex encoded. Failure of the entropy source is not
// recoverable locally; callers treat it as fatal.
func GenerateToken(byteLength int) (string, error) {
	b := make([]byte, byteLength)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes for token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken hashes a raw token with SHA-256 for storage and lookup.
// Raw tokens carry 256 bits of entropy, so an unsalted hash is enough.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
