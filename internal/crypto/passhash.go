// Package crypto implements the credential store: salted password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the per-user salt length in bytes.
	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewToken returns a random hex string of 2*n characters.
func NewToken(n int) (string, error) {
	b, err := RandBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Hash derives a hash for password under a fresh random salt.
// Two calls with the same password yield different salts and hashes.
func Hash(password string) (hash, salt []byte, err error) {
	salt, err = RandBytes(SaltLen)
	if err != nil {
		return nil, nil, err
	}
	return HashWithSalt(password, salt), salt, nil
}

// HashWithSalt returns the Argon2id hash of password using the provided salt.
func HashWithSalt(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Verify reports whether password matches the stored hash and salt.
// Malformed or empty stored values never verify.
func Verify(password string, hash, salt []byte) bool {
	if len(hash) != int(argonKeyLen) || len(salt) == 0 {
		return false
	}
	got := HashWithSalt(password, salt)
	return subtle.ConstantTimeCompare(got, hash) == 1
}
