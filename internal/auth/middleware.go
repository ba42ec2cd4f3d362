package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/admissions-auth/internal/domain"
	"github.com/spec-kit/admissions-auth/internal/repository"
	apperrors "github.com/spec-kit/admissions-auth/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	Account *domain.Account
	Claims  *Claims
	// Token is the raw access token the caller presented; flows that revoke
	// the current session resolve its family through it.
	Token string
}

// AuthMiddleware validates bearer tokens and loads the account behind them.
type AuthMiddleware struct {
	verifier *Verifier
	accounts repository.AccountRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(verifier *Verifier, accounts repository.AccountRepository) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, accounts: accounts}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, err := BearerToken(c)
	if err != nil {
		return err
	}

	claims, err := m.verifier.VerifyToken(c.UserContext(), token)
	if err != nil {
		return err
	}
	if claims.TokenType != domain.TokenTypeAccess {
		return apperrors.NewTokenInvalid("access token required")
	}

	account, err := m.accounts.GetByID(c.UserContext(), claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewTokenInvalid("account not found")
		}
		return apperrors.MapError(err)
	}
	if !account.IsActive() {
		return apperrors.NewAccessDenied("account is not active")
	}

	c.Locals(principalKey, &Principal{Account: account, Claims: claims, Token: token})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", apperrors.NewTokenInvalid("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperrors.NewTokenInvalid("invalid authorization header")
	}
	return parts[1], nil
}
