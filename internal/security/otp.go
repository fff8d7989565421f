package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a 6-digit numeric second-factor code (e.g. "042913").
// rand.Int draws uniformly over the code space, so no digit is favored.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}

// HashCode returns the hex-encoded SHA-256 of the code for storage.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual compares a submitted code against the stored hash in constant time.
func CodeEqual(providedCode, storedHash string) bool {
	provided := HashCode(providedCode)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(storedHash)) == 1
}
