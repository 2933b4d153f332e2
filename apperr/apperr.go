// Package apperr is the error taxonomy shared by services and the HTTP layer.
// Every store or gateway failure is translated into one of these kinds before
// it leaves a service.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindInvalidSignature
	KindGatewayUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindGatewayUnreachable:
		return "gateway_unreachable"
	default:
		return "internal"
	}
}

// Status maps a kind onto its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindInvalidSignature:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindGatewayUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind and message so wrapped copies still compare
// equal to the exported values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// Status is the HTTP status for this error. Gateway failures caused by a
// deadline report 504 rather than 502.
func (e *Error) Status() int {
	if e.Kind == KindGatewayUnreachable && errors.Is(e.Err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return e.Kind.Status()
}

var (
	ErrDuplicateEnrollment = &Error{Kind: KindConflict, Message: "already enrolled in this course"}
	ErrInvalidProgress     = &Error{Kind: KindValidation, Message: "invalid progress"}
	ErrInvalidSignature    = &Error{Kind: KindInvalidSignature, Message: "invalid webhook signature"}
	ErrReferenceNotFound   = &Error{Kind: KindNotFound, Message: "payment reference not found"}
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrForbidden           = &Error{Kind: KindForbidden, Message: "insufficient role for this operation"}
	ErrEmailTaken          = &Error{Kind: KindConflict, Message: "email already exists"}
	ErrInvalidCredentials  = &Error{Kind: KindUnauthenticated, Message: "invalid email or password"}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Validation(message string) *Error { return New(KindValidation, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func Conflict(message string) *Error { return New(KindConflict, message) }

func Internal(err error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

func GatewayUnreachable(err error) *Error {
	return &Error{Kind: KindGatewayUnreachable, Message: "payment gateway unreachable", Err: err}
}

// Wrap attaches a cause to a sentinel while keeping errors.Is working.
func Wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Message: sentinel.Message, Err: err}
}

// From classifies any error. Unknown errors become internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "internal server error")
}

func KindOf(err error) Kind {
	return From(err).Kind
}
