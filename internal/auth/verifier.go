package auth

import (
	"context"
	"errors"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/admissions-auth/internal/repository"
	apperrors "github.com/spec-kit/admissions-auth/pkg/util"
)

// Verifier validates tokens against both cryptographic validity and the
// shadow record state. The revocation check runs before any cryptography, so
// a blacklisted token whose signature is still valid is rejected on
// revocation grounds first.
type Verifier struct {
	keys   *KeyStore
	store  repository.TokenStore
	logger *zap.Logger
}

// NewVerifier builds a verifier.
func NewVerifier(keys *KeyStore, store repository.TokenStore, logger *zap.Logger) *Verifier {
	return &Verifier{keys: keys, store: store, logger: logger}
}

// VerifyToken runs the full verification sequence and returns the claims on
// success. The steps short-circuit strictly in order: shadow record state,
// signature and embedded expiry, claims structure, token-type agreement.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	record, err := v.store.FindByValue(ctx, token)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if record == nil || record.Blacklisted || record.IsExpired() {
		return nil, apperrors.NewTokenInvalid("token is invalid or revoked")
	}

	key, err := v.keys.PublicKey()
	if err != nil {
		return nil, apperrors.NewKeyUnavailable(err)
	}

	claims := &Claims{}
	parsed, parseErr := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))

	switch {
	case parseErr == nil:
		if !parsed.Valid {
			return nil, apperrors.NewTokenInvalid("token is invalid")
		}
		if err := claims.checkWellFormed(); err != nil {
			return nil, apperrors.NewTokenMalformed(err.Error())
		}
		if claims.TokenType != record.Type {
			v.logger.Warn("token type disagrees with shadow record",
				zap.String("claims_type", string(claims.TokenType)),
				zap.String("record_type", string(record.Type)))
			return nil, apperrors.NewTokenInvalid("token type mismatch")
		}
		return claims, nil

	case errors.Is(parseErr, jwt.ErrTokenExpired):
		if err := claims.checkWellFormed(); err != nil {
			return nil, apperrors.NewTokenMalformed(err.Error())
		}
		// The shadow record outlived the embedded expiry; close the gap so
		// later lookups fail on the cheaper revocation check.
		if _, err := v.store.BlacklistByValue(ctx, token); err != nil {
			v.logger.Warn("failed to blacklist expired token", zap.Error(err))
		}
		return nil, apperrors.NewTokenExpired()

	default:
		// Signature or format failure: the store is left untouched.
		return nil, apperrors.NewTokenInvalid("token signature or format invalid")
	}
}

// DecodeToken decodes a token without verifying its signature. For logging
// and diagnostics only; never use its output for an authorization decision.
func (v *Verifier) DecodeToken(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, apperrors.NewTokenMalformed("token cannot be decoded")
	}
	return claims, nil
}
