package util

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Stable error codes exposed at the HTTP boundary.
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeBadCredentials        = "BAD_CREDENTIALS"
	CodeEntityNotFound        = "ENTITY_NOT_FOUND"
	CodeEntityExists          = "ENTITY_EXISTS"
	CodeAccessDenied          = "ACCESS_DENIED"
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeTokenInvalid          = "TOKEN_INVALID"
	CodeTokenReused           = "TOKEN_REUSED"
	CodeTokenMalformed        = "TOKEN_MALFORMED"
	CodeKeyUnavailable        = "KEY_UNAVAILABLE"
	CodeTokenGenerationFailed = "TOKEN_GENERATION_FAILED"
	CodeInternalError         = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

// NewBadCredentials is deliberately generic: it never reveals whether the
// email exists or which part of the credential pair was wrong.
func NewBadCredentials() error {
	return NewDomainError(CodeBadCredentials, "invalid email or password", http.StatusUnauthorized, nil)
}

func NewEntityNotFound(resource string) error {
	return NewDomainError(CodeEntityNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound, nil)
}

func NewEntityExists(message string) error {
	return NewDomainError(CodeEntityExists, message, http.StatusConflict, nil)
}

func NewAccessDenied(message string) error {
	return NewDomainError(CodeAccessDenied, message, http.StatusForbidden, nil)
}

func NewTokenExpired() error {
	return NewDomainError(CodeTokenExpired, "token has expired", http.StatusUnauthorized, nil)
}

func NewTokenInvalid(message string) error {
	return NewDomainError(CodeTokenInvalid, message, http.StatusUnauthorized, nil)
}

// NewTokenReused marks reuse of an already-rotated or otherwise invalidated
// refresh token. The whole token family is revoked when this is raised.
func NewTokenReused() error {
	return NewDomainError(CodeTokenReused, "refresh token already used or revoked", http.StatusUnauthorized, nil)
}

func NewTokenMalformed(message string) error {
	return NewDomainError(CodeTokenMalformed, message, http.StatusUnauthorized, nil)
}

func NewKeyUnavailable(err error) error {
	return &DomainError{
		Code:       CodeKeyUnavailable,
		Message:    "signing key unavailable",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewTokenGenerationFailed(err error) error {
	return &DomainError{
		Code:       CodeTokenGenerationFailed,
		Message:    "unable to issue token",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternalError,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err is a DomainError carrying the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError. Unexpected errors
// become INTERNAL_ERROR so raw details never cross the boundary.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	// pgx carries its own no-rows sentinel, distinct from database/sql's.
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewEntityNotFound("resource").(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       CodeInternalError,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
