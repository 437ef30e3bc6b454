// Package auth verifies bearer credentials and resolves them to a subject
// identifier. It issues nothing; token issuance belongs to the identity
// service.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trendke/livehub/internal/domain"
)

var (
	ErrMissingToken   = errors.New("missing authentication token")
	ErrInvalidToken   = errors.New("invalid authentication token")
	ErrMissingSubject = errors.New("token has no subject")
)

// Verifier validates HS256-signed tokens against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses the token and returns its subject. Only HS256 is accepted;
// expiry is enforced by the parser.
func (v *Verifier) Verify(token string) (domain.UserID, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrMissingSubject
	}
	return domain.UserID(sub), nil
}
