package crypto_test

import (
	"bytes"
	"testing"

	"pigeon/internal/crypto"
)

func TestVerifyPassword(t *testing.T) {
	hash, salt := crypto.HashPassword("correct horse")

	if !crypto.VerifyPassword("correct horse", salt, hash) {
		t.Fatal("correct password rejected")
	}
	if crypto.VerifyPassword("wrong horse", salt, hash) {
		t.Fatal("wrong password accepted")
	}
	if crypto.VerifyPassword("correct horse", bytes.Repeat([]byte{0}, crypto.SaltBytes), hash) {
		t.Fatal("wrong salt accepted")
	}
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	hashA, saltA := crypto.HashPassword("same password")
	hashB, saltB := crypto.HashPassword("same password")

	if bytes.Equal(saltA, saltB) {
		t.Fatal("salt repeated across calls")
	}
	if bytes.Equal(hashA, hashB) {
		t.Fatal("identical hashes for fresh salts")
	}
}
