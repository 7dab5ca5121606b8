package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/casinoscope/casinoscopecom/pkg"
)

const (
	hashSaltLen = 16
	hashKeyLen  = 32

	// passwords get the more expensive derivation, pins are entered often
	// and are gated behind an already validated session
	PasswordHashIterations = 100_000
	PinHashIterations      = 50_000
)

// HashSecret derives a key from the given secret with a fresh random salt
// and returns it as "saltHex:keyHex". Non-deterministic across calls.
func HashSecret(secret string, iterations int) (string, error) {
	salt, err := pkg.GenerateRandomBytes(hashSaltLen)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(secret), salt, iterations, hashKeyLen, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// VerifySecret recomputes the derived key from the supplied secret and the
// stored salt and compares in constant time. Malformed stored values yield
// false, never an error.
func VerifySecret(secret, storedHash string, iterations int) bool {
	saltHex, keyHex, found := strings.Cut(storedHash, ":")
	if !found {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) == 0 {
		return false
	}
	storedKey, err := hex.DecodeString(keyHex)
	if err != nil || len(storedKey) == 0 {
		return false
	}

	key := pbkdf2.Key([]byte(secret), salt, iterations, len(storedKey), sha256.New)
	return subtle.ConstantTimeCompare(key, storedKey) == 1
}
