package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrBadSignature covers every token that was not produced by this
	// service: forged, tampered, truncated or otherwise malformed.
	ErrBadSignature = errors.New("invalid token signature")

	// ErrExpired is returned for an authentic token past its expiry.
	ErrExpired = errors.New("token expired")
)

const minSecretLength = 32

// TokenService issues and verifies stateless HS256 session tokens.
// A token is valid from its issue instant up to, but excluding, issue
// instant + TTL, to the nanosecond.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenService constructs a TokenService. The secret is copied and kept
// private to the service.
func NewTokenService(secret string, ttl time.Duration, issuer string) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, errors.New("token secret is too short")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject valid from now until now+TTL.
func (s *TokenService) Issue(subject string, now time.Time) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is required")
	}
	expires := now.Add(s.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
			// Whole seconds, rounded down, for generic JWT readers.
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		ExpiresAtNano: expires.UnixNano(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and expiry of tokenString at instant now and
// returns its subject.
func (s *TokenService) Verify(tokenString string, now time.Time) (string, error) {
	claims := sessionClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		// The signature is checked before the claims, so an expiry error
		// implies the token is authentic.
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenInvalidIssuer) {
			return "", ErrExpired
		}
		return "", ErrBadSignature
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrBadSignature
	}
	return claims.Subject, nil
}

// sessionClaims carries the expiry at full precision next to the standard
// exp claim, which JSON numeric dates round to the second.
type sessionClaims struct {
	jwt.RegisteredClaims
	ExpiresAtNano int64 `json:"exp_ns,omitempty"`
}

// GetExpirationTime makes the parser's expiry check use exp_ns. A token
// without it has no expiry and is rejected.
func (c sessionClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.ExpiresAtNano == 0 {
		return nil, nil
	}
	return &jwt.NumericDate{Time: time.Unix(0, c.ExpiresAtNano)}, nil
}
