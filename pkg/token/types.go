package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors. All are terminal for the request; the HTTP layer
// maps every one of them to 401.
var (
	ErrMalformedToken   = errors.New("token: malformed token")
	ErrUnknownKey       = errors.New("token: signing key not found")
	ErrBadSignature     = errors.New("token: signature verification failed")
	ErrTokenExpired     = errors.New("token: token expired")
	ErrTokenNotYetValid = errors.New("token: token not yet valid")
	ErrInvalidIssuer    = errors.New("token: issuer mismatch")
	ErrInvalidAudience  = errors.New("token: audience mismatch")
)

// Claims is the raw claim set carried by platform access tokens.
type Claims struct {
	Role           string   `json:"role,omitempty"`
	OrganizationID string   `json:"org_id,omitempty"`
	Permissions    []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// VerifiedToken is the decoded, signature-validated claim set. It is
// immutable once created and discarded at end of request.
type VerifiedToken struct {
	Subject        string
	Issuer         string
	Audience       []string
	ExpiresAt      time.Time
	IssuedAt       time.Time
	Role           string
	OrganizationID string
	Permissions    []string
}

func newVerifiedToken(c *Claims) *VerifiedToken {
	vt := &VerifiedToken{
		Subject:        c.Subject,
		Issuer:         c.Issuer,
		Audience:       []string(c.Audience),
		Role:           c.Role,
		OrganizationID: c.OrganizationID,
		Permissions:    c.Permissions,
	}
	if c.ExpiresAt != nil {
		vt.ExpiresAt = c.ExpiresAt.Time
	}
	if c.IssuedAt != nil {
		vt.IssuedAt = c.IssuedAt.Time
	}
	return vt
}
