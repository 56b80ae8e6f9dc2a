// Package auth issues and validates the bearer tokens used by the back
// office. Credential verification is a plain stored-value comparison against
// the admin roster; password hashing is out of scope for this deployment.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pintrolley.app/internal/ledger"
)

const issuer = "pintrolley"

// DefaultTTL is the session lifetime for back-office tokens.
const DefaultTTL = 12 * time.Hour

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Claims are the JWT claims carried by back-office sessions.
type Claims struct {
	Username string      `json:"username"`
	Name     string      `json:"name"`
	Role     ledger.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 tokens for admins resolved from the book.
type Service struct {
	secret []byte
	book   *ledger.Book
	ttl    time.Duration
	now    func() time.Time
}

// NewService builds the token service. The secret must be non-empty.
func NewService(secret string, book *ledger.Book) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth secret is not configured")
	}
	return &Service{
		secret: []byte(secret),
		book:   book,
		ttl:    DefaultTTL,
		now:    time.Now,
	}, nil
}

// Login verifies the credentials against the admin roster and returns a
// signed token together with the matched admin (password cleared).
func (s *Service) Login(username, password string) (string, ledger.AdminUser, error) {
	admin, ok := s.book.AdminByUsername(strings.TrimSpace(username))
	if !ok || admin.Password != password {
		return "", ledger.AdminUser{}, ErrInvalidCredentials
	}
	token, err := s.issue(admin)
	if err != nil {
		return "", ledger.AdminUser{}, err
	}
	admin.Password = ""
	return token, admin, nil
}

func (s *Service) issue(admin ledger.AdminUser) (string, error) {
	now := s.now().UTC()
	claims := Claims{
		Username: admin.Username,
		Name:     admin.Name,
		Role:     admin.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   admin.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and registered claims of a bearer token.
func (s *Service) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
