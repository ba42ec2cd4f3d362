package auth

import (
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/admissions-auth/internal/domain"
)

// Claims describes the signed token payload. TokenType must agree with the
// Type of the shadow record stored for the same token value; the verifier
// rejects any mismatch.
type Claims struct {
	Email         string           `json:"email"`
	Name          string           `json:"name,omitempty"`
	Role          domain.Role      `json:"role,omitempty"`
	Permissions   []string         `json:"permissions,omitempty"`
	AccountStatus string           `json:"account_status,omitempty"`
	TokenType     domain.TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// NewClaims builds claims for an account. Token type and timestamps are set
// by the issuer at signing time.
func NewClaims(account *domain.Account) *Claims {
	return &Claims{
		Email:         account.Email,
		Name:          account.Name,
		Role:          account.Role,
		Permissions:   account.Permissions,
		AccountStatus: account.Status(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: account.ID,
		},
	}
}

// checkWellFormed validates the structural requirements of decoded claims:
// required fields present and correctly typed. Named so the jwt parser does
// not invoke it implicitly during signature verification.
func (c *Claims) checkWellFormed() error {
	if c.Subject == "" {
		return fmt.Errorf("missing subject")
	}
	if c.Email == "" {
		return fmt.Errorf("missing email")
	}
	if c.TokenType != domain.TokenTypeAccess && c.TokenType != domain.TokenTypeRefresh {
		return fmt.Errorf("unknown token type %q", c.TokenType)
	}
	if c.IssuedAt == nil || c.ExpiresAt == nil {
		return fmt.Errorf("missing issued-at or expiry")
	}
	return nil
}
