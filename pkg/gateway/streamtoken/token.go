// Package streamtoken signs the call parties into the stream URL handed to
// the telephony provider, so the websocket endpoint cannot be dialed with
// arbitrary numbers.
package streamtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid stream token")

const issuer = "vai-phone"

// Claims identify the two call parties.
type Claims struct {
	To   string `json:"to"`
	From string `json:"from"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool { return s != nil && len(s.secret) > 0 }

// Sign returns an HS256 token for the given call parties.
func (s *Signer) Sign(to, from, callID string) (string, error) {
	if !s.Enabled() {
		return "", errors.New("streamtoken: no secret configured")
	}
	now := s.now()
	claims := Claims{
		To:   to,
		From: from,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        callID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses raw and checks signature, issuer, and expiry.
func (s *Signer) Verify(raw string) (Claims, error) {
	if !s.Enabled() {
		return Claims{}, errors.New("streamtoken: no secret configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	var claims Claims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
