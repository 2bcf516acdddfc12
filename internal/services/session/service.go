package session

import (
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"pigeon/internal/crypto"
	"pigeon/internal/domain"
)

const (
	// Issuer is the issuer claim stamped into every token.
	Issuer = "pigeond"

	// secretBytes is how much entropy backs each per-login secret.
	secretBytes = 512
)

// Service issues, verifies and revokes session tokens. Each login stores a
// fresh random secret keyed by username; the token is a JWT signed with that
// secret. Overwriting the secret is the sole revocation mechanism, so at
// most one token per username verifies at any instant.
type Service struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// New returns a Service with no open sessions.
func New() *Service {
	return &Service{secrets: make(map[string][]byte)}
}

// Initiate opens a session for username and returns its token. Any token
// from an earlier session of the same user stops verifying immediately.
//
// If two Initiate calls for one username race, the secret left behind is
// whichever write landed last, which is not necessarily the logically most
// recent login. Acceptable: either way exactly one token verifies.
func (s *Service) Initiate(username string) (domain.SessionToken, error) {
	secret := crypto.RandomBytes(secretBytes)

	s.mu.Lock()
	s.secrets[username] = secret
	s.mu.Unlock()

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"username": username,
		"iss":      Issuer,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return domain.SessionToken(signed), nil
}

// Resolve verifies token and returns the username it belongs to.
//
// The claimed username is decoded without any cryptographic trust, used only
// to look up the per-user secret; the signature check against that secret is
// what establishes the claim.
func (s *Service) Resolve(token domain.SessionToken) (string, error) {
	claimed, err := claimedUsername(token)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	secret, ok := s.secrets[claimed]
	s.mu.RUnlock()
	if !ok {
		return "", domain.ErrInvalidToken
	}

	parsed, err := jwt.Parse(token.String(),
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(Issuer),
	)
	if err != nil || !parsed.Valid {
		return "", domain.ErrInvalidToken
	}
	return claimed, nil
}

// Terminate verifies token, deletes its secret so every further verification
// for that username fails deterministically, and returns the username.
func (s *Service) Terminate(token domain.SessionToken) (string, error) {
	username, err := s.Resolve(token)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	delete(s.secrets, username)
	s.mu.Unlock()
	return username, nil
}

func claimedUsername(token domain.SessionToken) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token.String(), claims); err != nil {
		return "", domain.ErrInvalidToken
	}
	username, _ := claims["username"].(string)
	if username == "" {
		return "", domain.ErrInvalidToken
	}
	return username, nil
}
