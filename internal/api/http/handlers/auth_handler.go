package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/admissions-auth/internal/api/dto"
	"github.com/spec-kit/admissions-auth/internal/auth"
	"github.com/spec-kit/admissions-auth/internal/observability"
	"github.com/spec-kit/admissions-auth/internal/service"
	apperrors "github.com/spec-kit/admissions-auth/pkg/util"
)

// AuthHandler exposes the login, registration and token lifecycle endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	metrics *observability.Metrics
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, metrics *observability.Metrics) *AuthHandler {
	return &AuthHandler{auth: authService, metrics: metrics}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("name, email and password required", nil)
	}

	pair, err := h.auth.Register(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}

	h.metrics.RecordAuthEvent("register")
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": tokenPairResponse(pair)})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	pair, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	h.metrics.RecordAuthEvent("login")
	return c.JSON(fiber.Map{"data": tokenPairResponse(pair)})
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.RefreshToken == "" {
		return apperrors.NewValidationError("refresh_token required", nil)
	}

	pair, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeTokenReused) {
			h.metrics.RecordAuthEvent("reuse_detected")
		}
		return err
	}

	h.metrics.RecordAuthEvent("refresh")
	return c.JSON(fiber.Map{"data": tokenPairResponse(pair)})
}

// Logout handles POST /auth/logout. The access token comes from the
// Authorization header; the body may carry the refresh token to revoke with it.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	accessToken, err := auth.BearerToken(c)
	if err != nil {
		return err
	}

	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	if err := h.auth.Logout(c.UserContext(), accessToken, req.RefreshToken); err != nil {
		return err
	}

	h.metrics.RecordAuthEvent("logout")
	return c.JSON(dto.StatusResponse{Success: true, Message: "logged out"})
}

// Me handles GET /auth/me for the authenticated account.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewTokenInvalid("authentication required")
	}

	account := principal.Account
	return c.JSON(fiber.Map{"data": fiber.Map{
		"id":          account.ID,
		"name":        account.Name,
		"email":       account.Email,
		"role":        account.Role,
		"permissions": account.Permissions,
	}})
}

// ChangePassword handles POST /auth/password/change.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewTokenInvalid("authentication required")
	}

	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return apperrors.NewValidationError("current and new password required", nil)
	}

	if err := h.auth.ChangePassword(c.UserContext(), principal.Account.ID, principal.Token, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}

	return c.JSON(dto.StatusResponse{Success: true, Message: "password changed"})
}

func tokenPairResponse(pair *service.TokenPair) dto.TokenPairResponse {
	return dto.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		User: dto.UserResponse{
			ID:    pair.Account.ID,
			Name:  pair.Account.Name,
			Email: pair.Account.Email,
			Role:  string(pair.Account.Role),
		},
	}
}
