package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidSession is returned for bad, expired or foreign session tokens.
var ErrInvalidSession = errors.New("auth: invalid session token")

const sessionIssuer = "wager-engine"

// Sessions issues and validates HS256 session tokens whose subject is the
// caller's address.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a session issuer. The secret must be at least 32 bytes.
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for caller and its expiry.
func (s *Sessions) Issue(caller common.Address) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   caller.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.New().String(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign session: %w", err)
	}
	return token, exp, nil
}

// Parse validates a token and returns the caller it was issued to.
func (s *Sessions) Parse(token string) (common.Address, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	caller, err := ParseAddress(claims.Subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: subject: %v", ErrInvalidSession, err)
	}
	return caller, nil
}
