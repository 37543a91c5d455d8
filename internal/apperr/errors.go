// Package apperr defines the typed errors returned by the authentication core
// and mapped to HTTP responses at the request boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping.
type Kind string

const (
	KindValidation       Kind = "validation"         // 400
	KindInvalidOrExpired Kind = "invalid_or_expired" // 400
	KindUnauthenticated  Kind = "unauthenticated"    // 401
	KindForbidden        Kind = "forbidden"          // 403
	KindNotFound         Kind = "not_found"          // 404
	KindConflict         Kind = "conflict"           // 409
	KindRateLimited      Kind = "rate_limited"       // 429
	KindDelivery         Kind = "delivery"           // 500
	KindInternal         Kind = "internal"           // 500
)

// Error is a structured application error. Message is safe to return to
// clients; Cause is kept for logging.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Validation(msg string) *Error { return New(KindValidation, msg) }

func NotFound(msg string) *Error { return New(KindNotFound, msg) }

func Unauthenticated(msg string) *Error { return New(KindUnauthenticated, msg) }

func Forbidden(msg string) *Error { return New(KindForbidden, msg) }

func InvalidOrExpired(msg string) *Error { return New(KindInvalidOrExpired, msg) }

func Conflict(msg string) *Error { return New(KindConflict, msg) }

func RateLimited(msg string) *Error { return New(KindRateLimited, msg) }

func Delivery(msg string, cause error) *Error { return Wrap(KindDelivery, msg, cause) }

func Internal(cause error) *Error { return Wrap(KindInternal, "something went wrong", cause) }

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is an application error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInvalidOrExpired:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the client-facing message for err. Untyped errors
// never leak their text.
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "something went wrong"
}
