// Package auth issues and verifies signed identity tokens for accounts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultValidity is how long an issued token stays valid.
const DefaultValidity = 7 * 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSecret     = errors.New("token signing secret is empty")
)

// Claims binds an account id and email to the standard registered claims.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"uid"`
	Email     string `json:"email"`
}

// Identity is the verified subject of a token.
type Identity struct {
	AccountID string
	Email     string
}

// Issuer signs and verifies HS256 tokens with a shared secret.
type Issuer struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

func NewIssuer(secret string, validity time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Issuer{secret: []byte(secret), validity: validity, now: time.Now}, nil
}

// Issue returns a signed token for the account.
func (i *Issuer) Issue(accountID, email string) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.validity)),
		},
		AccountID: accountID,
		Email:     email,
	})

	s, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return s, nil
}

// Verify parses tokenString and returns its identity. Expired tokens yield
// ErrTokenExpired; anything else that does not verify yields ErrInvalidToken.
func (i *Issuer) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid || claims.AccountID == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{AccountID: claims.AccountID, Email: claims.Email}, nil
}
