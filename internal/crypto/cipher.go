package crypto

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/box"

	"pigeon/internal/domain"
	"pigeon/internal/util/memzero"
)

// Cipher owns a client's asymmetric key pair and the per-peer conversation
// keys. It is shared by the outgoing send path and the inbound tunnel
// delivery path, so the key cache is mutex-guarded.
type Cipher struct {
	keys *KeyPair

	mu       sync.Mutex
	peerKeys map[string][]byte
}

// NewCipher generates the process-lifetime key pair and an empty key cache.
func NewCipher() (*Cipher, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Cipher{keys: kp, peerKeys: make(map[string][]byte)}, nil
}

// PublicKey returns the local public key as transmitted to peers.
func (c *Cipher) PublicKey() []byte {
	return c.keys.Public[:]
}

// GenerateSecretFor creates a conversation key for peer, caches the
// plaintext locally, and returns it wrapped under peerPub. Called on the
// responder side of a chat request.
func (c *Cipher) GenerateSecretFor(peer string, peerPub []byte) ([]byte, error) {
	if len(peerPub) != 32 {
		return nil, fmt.Errorf("peer public key has wrong size: %w", domain.ErrOperationFailed)
	}
	key, err := GenerateConversationKey()
	if err != nil {
		return nil, err
	}
	var pub [32]byte
	copy(pub[:], peerPub)
	wrapped, err := box.SealAnonymous(nil, key, &pub, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.forgetLocked(peer)
	c.peerKeys[peer] = key
	c.mu.Unlock()
	return wrapped, nil
}

// StoreWrappedSecret unwraps a conversation key a peer generated for us and
// caches it. Called on the initiator side once the chat reply arrives.
func (c *Cipher) StoreWrappedSecret(peer string, wrapped []byte) error {
	key, err := UnwrapKey(c.keys, wrapped)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.forgetLocked(peer)
	c.peerKeys[peer] = key
	c.mu.Unlock()
	return nil
}

// HasSecret reports whether a conversation key is cached for peer.
func (c *Cipher) HasSecret(peer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.peerKeys[peer]
	return ok
}

// EncryptFor seals plaintext with the conversation key cached for peer.
func (c *Cipher) EncryptFor(peer string, plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	key, ok := c.peerKeys[peer]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no conversation key for %q: %w", peer, domain.ErrTunnel)
	}
	return Seal(key, plaintext)
}

// DecryptFrom opens a payload received from peer.
func (c *Cipher) DecryptFrom(peer string, payload []byte) ([]byte, error) {
	c.mu.Lock()
	key, ok := c.peerKeys[peer]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no conversation key for %q: %w", peer, domain.ErrTunnel)
	}
	return Open(key, payload)
}

// Forget drops and zeroes the conversation key for peer, if any.
func (c *Cipher) Forget(peer string) {
	c.mu.Lock()
	c.forgetLocked(peer)
	c.mu.Unlock()
}

// Close zeroes and drops every cached conversation key.
func (c *Cipher) Close() {
	c.mu.Lock()
	for peer := range c.peerKeys {
		c.forgetLocked(peer)
	}
	c.mu.Unlock()
}

func (c *Cipher) forgetLocked(peer string) {
	if key, ok := c.peerKeys[peer]; ok {
		memzero.Zero(key)
		delete(c.peerKeys, peer)
	}
}
