// Package auth guards the HTTP API with a static bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingCredentials = errors.New("missing bearer token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Verifier checks presented tokens against a plain token or a bcrypt hash.
// The hash wins when both are set.
type Verifier struct {
	token []byte
	hash  []byte
}

func NewVerifier(token, tokenHash string) (*Verifier, error) {
	if token == "" && tokenHash == "" {
		return nil, errors.New("auth requires a token or a token hash")
	}
	v := &Verifier{}
	if tokenHash != "" {
		if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
			return nil, err
		}
		v.hash = []byte(tokenHash)
		return v, nil
	}
	v.token = []byte(token)
	return v, nil
}

func (v *Verifier) Verify(presented string) error {
	if presented == "" {
		return ErrMissingCredentials
	}
	if v.hash != nil {
		if bcrypt.CompareHashAndPassword(v.hash, []byte(presented)) != nil {
			return ErrInvalidCredentials
		}
		return nil
	}
	if subtle.ConstantTimeCompare(v.token, []byte(presented)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// HashToken returns a bcrypt hash suitable for server.auth.token_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header value.
func BearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
