package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/admissions-auth/internal/auth"
	"github.com/spec-kit/admissions-auth/internal/config"
	"github.com/spec-kit/admissions-auth/internal/domain"
	"github.com/spec-kit/admissions-auth/internal/events"
	"github.com/spec-kit/admissions-auth/internal/repository"
	apperrors "github.com/spec-kit/admissions-auth/pkg/util"
)

// TokenPair is the result of a successful login, registration or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Account      *domain.Account
}

// AuthService owns the token family state machine. A family moves
// ACTIVE -> ROTATED on each refresh and reaches the terminal REVOKED state on
// logout or reuse detection. Presenting an already-rotated or expired refresh
// token revokes the entire family: even a legitimate client's retried refresh
// is treated as reuse, trading client convenience for a closed race window.
type AuthService struct {
	accounts   repository.AccountRepository
	tokens     repository.TokenStore
	issuer     *auth.Issuer
	verifier   *auth.Verifier
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
}

// AuthDependencies encapsulates collaborator requirements for the service.
type AuthDependencies struct {
	Accounts   repository.AccountRepository
	Tokens     repository.TokenStore
	Issuer     *auth.Issuer
	Verifier   *auth.Verifier
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		accounts:   deps.Accounts,
		tokens:     deps.Tokens,
		issuer:     deps.Issuer,
		verifier:   deps.Verifier,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

// Verifier exposes the token verifier for middleware usage.
func (s *AuthService) Verifier() *auth.Verifier {
	return s.verifier
}

// Register creates a new account and starts its first token family. The
// repository serializes the duplicate check, so concurrent registrations with
// the same email yield exactly one success.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*TokenPair, error) {
	email = normalizeEmail(email)

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	account := &domain.Account{
		Name:                  name,
		Email:                 email,
		PasswordHash:          hash,
		Role:                  domain.RoleApplicant,
		Permissions:           []string{"profile:read", "profile:write"},
		Enabled:               true,
		AccountNonLocked:      true,
		AccountNonExpired:     true,
		CredentialsNonExpired: true,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventAccountRegistered,
		AccountID: account.ID,
		Timestamp: time.Now(),
		Payload:   events.AccountRegisteredPayload{Email: account.Email, Role: string(account.Role)},
	})

	return s.issuePair(ctx, account, uuid.NewString())
}

// Login authenticates an account and starts a fresh token family. Unknown
// email and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	account, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewBadCredentials()
		}
		return nil, apperrors.NewInternalError(err)
	}

	if err := auth.ComparePassword(account.PasswordHash, password); err != nil {
		return nil, apperrors.NewBadCredentials()
	}
	if !account.IsActive() {
		return nil, apperrors.NewAccessDenied("account is not active")
	}

	return s.issuePair(ctx, account, uuid.NewString())
}

// Refresh rotates a token family: the presented refresh token is consumed and
// a replacement pair is issued under the same family id. Any sign that the
// token was already consumed, or that verification cannot be trusted, revokes
// the whole family. No family other than the one resolved from the presented
// token is ever touched.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	record, err := s.tokens.FindByValue(ctx, refreshToken)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if record == nil {
		// No shadow record means no family to act on.
		return nil, apperrors.NewTokenInvalid("unknown refresh token")
	}
	if record.Type != domain.TokenTypeRefresh {
		s.logger.Warn("non-refresh token presented for rotation",
			zap.String("type", string(record.Type)),
			zap.String("family_id", record.FamilyID))
		return nil, apperrors.NewTokenInvalid("not a refresh token")
	}
	if !record.IsValid() {
		// A blacklisted or expired refresh token was presented: either it was
		// already rotated or it leaked. Trust in the whole lineage is gone.
		s.revokeFamily(ctx, record.FamilyID, "", "refresh token reuse detected")
		return nil, apperrors.NewTokenReused()
	}

	claims, err := s.verifier.VerifyToken(ctx, refreshToken)
	if err != nil {
		s.revokeFamily(ctx, record.FamilyID, "", "refresh token failed verification")
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.revokeFamily(ctx, record.FamilyID, claims.Subject, "account no longer exists")
			return nil, apperrors.NewAccessDenied("account not usable")
		}
		return nil, apperrors.NewInternalError(err)
	}
	if !account.IsActive() {
		s.revokeFamily(ctx, record.FamilyID, account.ID, "account no longer active")
		return nil, apperrors.NewAccessDenied("account not usable")
	}

	// Consume the old refresh token before issuing replacements. Concurrent
	// duplicate refresh calls collapse to one winner here; losers observe the
	// already-blacklisted record and revoke the family.
	applied, err := s.tokens.BlacklistByValue(ctx, refreshToken)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if !applied {
		s.revokeFamily(ctx, record.FamilyID, account.ID, "concurrent refresh detected")
		return nil, apperrors.NewTokenReused()
	}

	return s.issuePair(ctx, account, record.FamilyID)
}

// Logout revokes the session identified by the access token. The access
// token's shadow record is the authoritative source of the family id; without
// it ownership cannot be proven and the call fails. A supplied refresh token
// is revoked only when it belongs to the same family. The two revocation
// writes run concurrently and partial failure is tolerated: a missed
// revocation is a gap, not an escalation.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	accessRec, err := s.tokens.FindByValue(ctx, accessToken)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if accessRec == nil {
		return apperrors.NewEntityNotFound("session")
	}
	familyID := accessRec.FamilyID

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if accessRec.Blacklisted {
			return
		}
		if _, err := s.tokens.BlacklistByValue(ctx, accessToken); err != nil {
			s.logger.Warn("failed to revoke access token on logout",
				zap.String("family_id", familyID), zap.Error(err))
		}
	}()

	if refreshToken != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refreshRec, err := s.tokens.FindByValue(ctx, refreshToken)
			if err != nil {
				s.logger.Warn("failed to resolve refresh token on logout", zap.Error(err))
				return
			}
			if refreshRec == nil {
				return
			}
			if refreshRec.FamilyID != familyID {
				// Revoking it here would let a caller launder a stolen
				// refresh token through their own logout.
				s.logger.Warn("refresh token from another family supplied on logout",
					zap.String("access_family_id", familyID),
					zap.String("refresh_family_id", refreshRec.FamilyID))
				return
			}
			if _, err := s.tokens.BlacklistByValue(ctx, refreshToken); err != nil {
				s.logger.Warn("failed to revoke refresh token on logout",
					zap.String("family_id", familyID), zap.Error(err))
			}
		}()
	}

	wg.Wait()

	accountID := ""
	if claims, err := s.verifier.DecodeToken(accessToken); err == nil {
		accountID = claims.Subject
	}
	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventAccountLoggedOut,
		AccountID: accountID,
		Timestamp: time.Now(),
	})

	return nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes the caller's token family so tokens minted under the old password
// die with it.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, accessToken, currentPassword, newPassword string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewEntityNotFound("account")
		}
		return apperrors.NewInternalError(err)
	}

	if err := auth.ComparePassword(account.PasswordHash, currentPassword); err != nil {
		return apperrors.NewBadCredentials()
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := s.accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		return apperrors.NewInternalError(err)
	}

	if record, err := s.tokens.FindByValue(ctx, accessToken); err == nil && record != nil {
		s.revokeFamily(ctx, record.FamilyID, accountID, "password changed")
	}

	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventPasswordChanged,
		AccountID: accountID,
		Timestamp: time.Now(),
	})

	return nil
}

func (s *AuthService) issuePair(ctx context.Context, account *domain.Account, familyID string) (*TokenPair, error) {
	access, err := s.issuer.GenerateAccessToken(ctx, auth.NewClaims(account), familyID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issuer.GenerateRefreshToken(ctx, auth.NewClaims(account), familyID)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
		Account:      account,
	}, nil
}

func (s *AuthService) revokeFamily(ctx context.Context, familyID, accountID, reason string) {
	if err := s.tokens.InvalidateFamily(ctx, familyID); err != nil {
		s.logger.Error("family invalidation failed",
			zap.String("family_id", familyID),
			zap.String("reason", reason),
			zap.Error(err))
	}

	s.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTokenFamilyRevoked,
		AccountID: accountID,
		Timestamp: time.Now(),
		Payload:   events.FamilyRevokedPayload{FamilyID: familyID, Reason: reason},
	})
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publication failed",
			zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
