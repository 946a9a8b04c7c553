package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	tokenLength = 32 // 32 bytes = 256 bits
)

// GenerateChallenge generates a random single-use challenge token. Only the
// hash is ever stored; the raw token is handed to the caller exactly once.
func GenerateChallenge() (string, error) {
	bytes := make([]byte, tokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}

	// Encode to base64 for easier transmission
	token := base64.RawURLEncoding.EncodeToString(bytes)
	return token, nil
}

// HashChallenge hashes a challenge token for storage
func HashChallenge(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.RawStdEncoding.EncodeToString(hash[:])
}

// VerifyChallenge verifies a token against its stored hash using
// constant-time comparison
func VerifyChallenge(token, storedHash string) bool {
	actualHash := HashChallenge(token)
	return subtle.ConstantTimeCompare([]byte(actualHash), []byte(storedHash)) == 1
}
