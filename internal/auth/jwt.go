// Package auth is the shared-passphrase gate: a correct passphrase buys a
// signed session token, and the middleware checks that token.
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"presence/internal/model"
)

var (
	ErrBadPassphrase = errors.New("invalid passphrase")
	ErrNoPassphrase  = errors.New("passphrase not configured")
)

// Claims represents JWT payload.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	passphrase string
	issuer     string
	key        []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewIssuer creates an issuer. An empty passphrase refuses every login.
func NewIssuer(passphrase, issuer, signingKey string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{passphrase: passphrase, issuer: issuer, key: []byte(signingKey), ttl: ttl, now: time.Now}
}

// Login checks the passphrase and issues a session token.
func (i *Issuer) Login(passphrase string) (model.Session, error) {
	if i.passphrase == "" {
		return model.Session{}, ErrNoPassphrase
	}
	if subtle.ConstantTimeCompare([]byte(passphrase), []byte(i.passphrase)) != 1 {
		return model.Session{}, ErrBadPassphrase
	}
	return i.Issue("staff")
}

// Issue signs a token for subject.
func (i *Issuer) Issue(subject string) (model.Session, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{Token: token, ExpiresAt: exp.UTC()}, nil
}

// Parse validates a token and returns claims.
func (i *Issuer) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.key, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
