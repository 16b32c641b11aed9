package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure for propagation and HTTP mapping.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindAuthorization       ErrorKind = "authorization"
	KindConflict            ErrorKind = "conflict"
	KindExternalUnavailable ErrorKind = "external_unavailable"
	KindInconsistent        ErrorKind = "inconsistent"
	KindCanceled            ErrorKind = "canceled"
	KindInternal            ErrorKind = "internal"
)

// HTTPStatus maps a kind to its response class.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindExternalUnavailable:
		return http.StatusBadGateway
	case KindCanceled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

// DomainError carries a classified failure across component boundaries.
// I/O errors are classified where they occur and never silently swallowed.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
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

func NewValidationError(message string) *DomainError {
	return &DomainError{Kind: KindValidation, Message: message}
}

func NewAuthorizationError(message string) *DomainError {
	return &DomainError{Kind: KindAuthorization, Message: message}
}

func NewConflictError(message string) *DomainError {
	return &DomainError{Kind: KindConflict, Message: message}
}

func NewExternalError(message string, err error) *DomainError {
	return &DomainError{Kind: KindExternalUnavailable, Message: message, Err: err}
}

func NewInconsistentError(message string) *DomainError {
	return &DomainError{Kind: KindInconsistent, Message: message}
}

func NewInternalError(message string, err error) *DomainError {
	return &DomainError{Kind: KindInternal, Message: message, Err: err}
}

// KindOf classifies an arbitrary error, unwrapping DomainError and the
// context cancellation sentinels.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}
