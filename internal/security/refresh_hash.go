package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const refreshSaltLen = 16

// NewRefreshSalt returns a fresh hex-encoded salt for hashing a refresh token.
// Each session row carries its own salt so a registry dump cannot be attacked
// with a single rainbow table.
func NewRefreshSalt() (string, error) {
	b := make([]byte, refreshSaltLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashRefreshToken returns the hex-encoded SHA-256 of salt||token. The raw
// token never touches the database.
func HashRefreshToken(salt, token string) string {
	h := sha256.Sum256([]byte(salt + token))
	return hex.EncodeToString(h[:])
}

// RefreshHashEqual compares the provided token against the stored salted hash
// in constant time.
func RefreshHashEqual(salt, providedToken, storedHash string) bool {
	provided := HashRefreshToken(salt, providedToken)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(storedHash)) == 1
}
