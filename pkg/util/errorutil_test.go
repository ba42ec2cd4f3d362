package util

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestToDomainErrorPassthrough(t *testing.T) {
	err := NewTokenReused()
	mapped := ToDomainError(err)
	assert.Equal(t, CodeTokenReused, mapped.Code)
	assert.Equal(t, http.StatusUnauthorized, mapped.HTTPStatus)
}

func TestToDomainErrorWrapsUnknown(t *testing.T) {
	mapped := ToDomainError(errors.New("redis connection reset"))
	assert.Equal(t, CodeInternalError, mapped.Code)
	// The raw cause stays server-side; only the generic message is exposed.
	assert.Equal(t, "internal server error", mapped.Message)
}

func TestToDomainErrorNoRows(t *testing.T) {
	mapped := ToDomainError(fmt.Errorf("load account: %w", sql.ErrNoRows))
	assert.Equal(t, CodeEntityNotFound, mapped.Code)
	assert.Equal(t, http.StatusNotFound, mapped.HTTPStatus)

	// The repositories surface pgx's sentinel, not database/sql's.
	mapped = ToDomainError(fmt.Errorf("load account: %w", pgx.ErrNoRows))
	assert.Equal(t, CodeEntityNotFound, mapped.Code)
	assert.Equal(t, http.StatusNotFound, mapped.HTTPStatus)
}

func TestHasCode(t *testing.T) {
	assert.True(t, HasCode(NewBadCredentials(), CodeBadCredentials))
	assert.True(t, HasCode(fmt.Errorf("login: %w", NewBadCredentials()), CodeBadCredentials))
	assert.False(t, HasCode(NewBadCredentials(), CodeAccessDenied))
	assert.False(t, HasCode(errors.New("plain"), CodeBadCredentials))
	assert.False(t, HasCode(nil, CodeBadCredentials))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("pool exhausted")
	err := NewInternalError(cause)
	assert.ErrorIs(t, err, cause)
}
