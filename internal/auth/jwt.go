// Package auth issues and verifies the bearer tokens gateways present to the
// ingestion service. Tokens are HS256 JWTs naming the gateway's origin id.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken means no bearer token was presented.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken means the token failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

const defaultTokenTTL = 5 * time.Minute

// Claims represents JWT claims exchanged between gateway and center.
type Claims struct {
	OriginID string `json:"origin_id"`
	jwt.RegisteredClaims
}

// Issuer signs short-lived tokens for one origin.
type Issuer struct {
	secret   []byte
	originID string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer builds an issuer; ttl <= 0 uses five minutes.
func NewIssuer(secret, originID string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: empty secret")
	}
	originID = strings.TrimSpace(originID)
	if originID == "" {
		return nil, errors.New("auth: empty origin_id")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), originID: originID, ttl: ttl, now: time.Now}, nil
}

// Token signs a fresh token.
func (i *Issuer) Token() (string, error) {
	now := i.now()
	claims := Claims{
		OriginID: i.originID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   i.originID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ParseJWT validates a token and returns its claims.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.OriginID) == "" {
		return nil, fmt.Errorf("%w: missing origin_id", ErrInvalidToken)
	}
	return claims, nil
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
