// Package crypto provides the key material and ciphers the chat protocol
// relies on: X25519 key pairs, sealed-box key wrapping, authenticated
// symmetric message encryption, and password hashing.
package crypto
