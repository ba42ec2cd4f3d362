package auth

import (
	"context"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/admissions-auth/internal/config"
	"github.com/spec-kit/admissions-auth/internal/domain"
	"github.com/spec-kit/admissions-auth/internal/repository"
	apperrors "github.com/spec-kit/admissions-auth/pkg/util"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Issuer signs new tokens and writes the matching shadow records. Exactly one
// store write happens per issued token; a failed write fails the issuance and
// is not retried.
type Issuer struct {
	keys       *KeyStore
	store      repository.TokenStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
}

// NewIssuer builds an issuer with TTLs derived from configuration.
func NewIssuer(keys *KeyStore, store repository.TokenStore, cfg config.AuthConfig, logger *zap.Logger) *Issuer {
	return &Issuer{
		keys:       keys,
		store:      store,
		accessTTL:  ParseTTL(cfg.AccessTokenTTL, defaultAccessTTL),
		refreshTTL: ParseTTL(cfg.RefreshTokenTTL, defaultRefreshTTL),
		logger:     logger,
	}
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// GenerateAccessToken signs a short-lived access token for the family and
// records its shadow.
func (i *Issuer) GenerateAccessToken(ctx context.Context, claims *Claims, familyID string) (string, error) {
	return i.generate(ctx, claims, familyID, domain.TokenTypeAccess, i.accessTTL)
}

// GenerateRefreshToken signs a long-lived refresh token for the family and
// records its shadow.
func (i *Issuer) GenerateRefreshToken(ctx context.Context, claims *Claims, familyID string) (string, error) {
	return i.generate(ctx, claims, familyID, domain.TokenTypeRefresh, i.refreshTTL)
}

func (i *Issuer) generate(ctx context.Context, claims *Claims, familyID string, typ domain.TokenType, ttl time.Duration) (string, error) {
	key, err := i.keys.PrivateKey()
	if err != nil {
		return "", apperrors.NewKeyUnavailable(err)
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	claims.TokenType = typ
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		i.logger.Error("token signing failed", zap.Error(err), zap.String("type", string(typ)))
		return "", apperrors.NewTokenGenerationFailed(err)
	}

	record := &domain.TokenRecord{
		Token:     signed,
		FamilyID:  familyID,
		Type:      typ,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := i.store.Save(ctx, record); err != nil {
		i.logger.Error("shadow record write failed",
			zap.Error(err),
			zap.String("type", string(typ)),
			zap.String("family_id", familyID))
		return "", apperrors.NewTokenGenerationFailed(err)
	}

	return signed, nil
}
