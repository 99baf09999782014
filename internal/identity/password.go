package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// argon2Time is the number of iterations (time cost) for Argon2id.
	argon2Time = 2

	// argon2Memory is the memory cost in KiB for Argon2id (64 MiB).
	argon2Memory = 64 * 1024

	// argon2Threads is the parallelism factor for Argon2id.
	argon2Threads = 2

	// argon2KeyLen is the output digest length in bytes.
	argon2KeyLen = 32

	// saltLen is the random salt length in bytes.
	saltLen = 16

	// sessionKeyLen is the random session key length in bytes, before
	// base64url encoding for transport.
	sessionKeyLen = 16
)

// NewSalt returns a fresh CSPRNG salt for password hashing.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("identity: generating salt: %w", err)
	}
	return salt, nil
}

// HashPassword returns the Argon2id digest of password under salt.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// VerifyPassword checks password against a stored (salt, hash) pair in
// constant time.
func VerifyPassword(password string, salt, hash []byte) bool {
	candidate := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

// NewSessionKey returns fresh random bytes for a Node's session key.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, sessionKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("identity: generating session key: %w", err)
	}
	return key, nil
}
