package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"

	"pigeon/internal/domain"
)

const (
	// KeyBytes is the size of a conversation key.
	KeyBytes = 32
	// NonceBytes is the size of the nonce prepended to every ciphertext.
	NonceBytes = chacha20poly1305.NonceSize
)

// KeyPair carries the X25519 material a client keeps for its process
// lifetime. Only the public half is ever transmitted.
type KeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

// GenerateKeyPair returns a fresh X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// GenerateConversationKey returns a fresh random symmetric key. The responder
// to a chat request is the only party that calls this.
func GenerateConversationKey() ([]byte, error) {
	key := make([]byte, KeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// WrapKey seals a conversation key under the recipient's public key using an
// anonymous sealed box (fresh ephemeral sender key per call).
func WrapKey(recipientPub *[32]byte, key []byte) ([]byte, error) {
	return box.SealAnonymous(nil, key, recipientPub, rand.Reader)
}

// UnwrapKey opens a sealed conversation key with the local key pair.
func UnwrapKey(kp *KeyPair, wrapped []byte) ([]byte, error) {
	key, ok := box.OpenAnonymous(nil, wrapped, kp.Public, kp.Private)
	if !ok {
		return nil, fmt.Errorf("unwrap conversation key: %w", domain.ErrIntegrity)
	}
	if len(key) != KeyBytes {
		return nil, errors.New("unwrapped key has wrong size")
	}
	return key, nil
}

// Seal encrypts plaintext with the conversation key. A fresh random nonce is
// generated on every call and prepended to the ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceBytes, NonceBytes+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out[:NonceBytes]); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[:NonceBytes], plaintext, nil), nil
}

// Open decrypts a nonce-prefixed payload produced by Seal. A truncated
// payload or an authentication-tag mismatch yields domain.ErrIntegrity;
// corrupted plaintext is never returned.
func Open(key, payload []byte) ([]byte, error) {
	if len(payload) < NonceBytes {
		return nil, fmt.Errorf("payload shorter than nonce: %w", domain.ErrIntegrity)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, payload[:NonceBytes], payload[NonceBytes:], nil)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", domain.ErrIntegrity)
	}
	return plaintext, nil
}

// RandomBytes returns n cryptographically random bytes. The process cannot
// operate without entropy, so a failing source panics.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto: entropy source failed: %v", err))
	}
	return b
}
