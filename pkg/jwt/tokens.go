package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const issuerName = "agentdeploy"

// ErrNoUser is returned for a token whose subject is empty.
var ErrNoUser = errors.New("session token has no user")

// SessionClaims carry the operator identity. The user is the JWT subject.
type SessionClaims struct {
	ProjectID string `json:"project_id,omitempty"`
	jwtlib.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *SessionClaims) UserID() string {
	return c.Subject
}

// Issuer signs and checks HS256 session tokens with one shared secret.
type Issuer struct {
	key []byte
	now func() time.Time
}

// NewIssuer returns an Issuer for secret. An empty secret is refused.
func NewIssuer(secret string) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Issuer{key: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for userID, optionally pinned to projectID, valid for ttl.
func (i *Issuer) Issue(userID, projectID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	issued := i.now()
	claims := SessionClaims{
		ProjectID: projectID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(issued),
			ExpiresAt: jwtlib.NewNumericDate(issued.Add(ttl)),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry of raw and returns its claims.
// raw may carry an "Authorization: Bearer" style prefix.
func (i *Issuer) Verify(raw string) (*SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	claims := &SessionClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims,
		func(*jwtlib.Token) (any, error) { return i.key, nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(issuerName),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrNoUser
	}
	return claims, nil
}
