// Package apperr defines the error taxonomy shared by every component and
// its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindForbidden
	KindNotFound
	KindOutOfStock
	KindInvalidState
	KindProductUnavailable
	KindConflict
	KindGatewayUnavailable
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindValidation:         "validation_error",
	KindForbidden:          "forbidden",
	KindNotFound:           "not_found",
	KindOutOfStock:         "out_of_stock",
	KindInvalidState:       "invalid_state",
	KindProductUnavailable: "product_unavailable",
	KindConflict:           "conflict",
	KindGatewayUnavailable: "gateway_unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "internal"
}

// HTTPStatus returns the response status used for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindOutOfStock, KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindProductUnavailable:
		return http.StatusUnprocessableEntity
	case KindGatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Code is a stable machine-readable identifier,
// Message is safe to return to callers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and Code so sentinels survive wrapping
// with a more specific message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// New builds a sentinel-style error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// With returns a copy of the sentinel carrying a caller-specific message.
func (e *Error) With(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

// Validation, Forbidden and friends are shorthands for ad-hoc errors.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "validation_error", Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Code: "forbidden", Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Code: "invalid_state", Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public returns the code and message that may be shown to callers.
func Public(err error) (code, message string) {
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		if msg == "" {
			msg = e.Kind.String()
		}
		return e.Code, msg
	}
	return "internal", "internal error"
}
