package crypto

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltBytes is the size of a per-user password salt.
	SaltBytes = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// HashPassword derives an Argon2id hash of password under a fresh random
// salt. Returns the hash and the salt, both stored alongside the user.
func HashPassword(password string) (hash, salt []byte) {
	salt = RandomBytes(SaltBytes)
	hash = hashWithSalt(password, salt)
	return hash, salt
}

// VerifyPassword reports whether password hashes to expected under salt.
// Comparison is constant time.
func VerifyPassword(password string, salt, expected []byte) bool {
	hash := hashWithSalt(password, salt)
	return subtle.ConstantTimeCompare(hash, expected) == 1
}

func hashWithSalt(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, KeyBytes)
}
