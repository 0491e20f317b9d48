package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
)

// Role is the role claim carried by a token.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RolePatient Role = "PATIENT"
)

// RoleFromUser converts a stored user role ("admin", "patient") to its claim form.
func RoleFromUser(role string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(role)))
}

type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// SubjectID parses the sub claim.
func (c *Claims) SubjectID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL is the lifetime of tokens produced by Issue.
func (i *Issuer) TTL() time.Duration { return i.ttl }

func (i *Issuer) Issue(subject uuid.UUID, role Role) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, algorithm and expiry of token and returns its
// claims. Every failure is Unauthorized.
func (i *Issuer) Verify(token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.Unauthorized("Not authenticated")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, apperr.Unauthorized("Invalid token")
	}
	if _, err := claims.SubjectID(); err != nil {
		return nil, apperr.Unauthorized("Invalid token")
	}
	claims.Role = RoleFromUser(string(claims.Role))
	return claims, nil
}
