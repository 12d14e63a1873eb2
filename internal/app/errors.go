package app

import (
	"errors"
	"fmt"
	"net/http"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/position"
	"taskboard/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code so callers can test against the sentinels below
// regardless of message or details.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrNotFound               = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	ErrPermissionDenied       = domainError(http.StatusForbidden, "PERMISSION_DENIED", "Permission denied", nil)
	ErrValidation             = domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", nil)
	ErrInvalidOrExpiredToken  = domainError(http.StatusBadRequest, "INVALID_OR_EXPIRED_TOKEN", "Invalid or expired token", nil)
	ErrEmailMismatch          = domainError(http.StatusForbidden, "EMAIL_MISMATCH", "Invite email does not match logged in user", nil)
	ErrConflictRetryExhausted = domainError(http.StatusConflict, "CONFLICT_RETRY_EXHAUSTED", "Too many concurrent changes to this list, try again", nil)
	ErrUnauthenticated        = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	ErrStorageDisabled        = domainError(http.StatusServiceUnavailable, "STORAGE_DISABLED", "Attachment storage is not configured", nil)
)

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func permissionDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, "PERMISSION_DENIED", message, nil)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

// translate maps lower-layer sentinels onto the domain taxonomy. what names
// the entity for not-found messages.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return notFound(what)
	case errors.Is(err, position.ErrRetryExhausted):
		return ErrConflictRetryExhausted
	case errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrInvalidToken):
		return ErrInvalidOrExpiredToken
	}
	return err
}
