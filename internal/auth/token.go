// Package auth verifies identity tokens handed to the server by the
// frontend. Players without a token play as guests under a
// per-connection ID.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for malformed, expired or
	// wrongly-signed tokens.
	ErrInvalidToken = errors.New("invalid identity token")

	// ErrDisabled is returned when no signing secret is configured.
	ErrDisabled = errors.New("identity verification disabled")
)

// Identity is the stable identity extracted from a verified token.
type Identity struct {
	UserID   string
	Username string
}

// Verifier checks HS256 identity tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a token verifier. An empty secret disables
// verification, so every connection plays as a guest.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verify checks the token signature and expiry and returns the
// embedded identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, ErrDisabled
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid || c.ID == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: c.ID, Username: c.Username}, nil
}

// Issue signs a token for the given identity. Used by tests and by the
// account endpoints of the outer deployment.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrDisabled
	}

	c := claims{
		ID:       id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
