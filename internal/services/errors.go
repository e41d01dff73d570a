package services

import (
	"errors"
	"net/http"
)

// ErrorKind classifies failures surfaced to callers.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindInvalidSignature
	KindInvalidState
	KindAlreadyExists
	KindGateway
	KindGatewayTimeout
)

var kindNames = map[ErrorKind]string{
	KindValidation:       "ValidationError",
	KindUnauthorized:     "Unauthorized",
	KindForbidden:        "Forbidden",
	KindNotFound:         "NotFound",
	KindInvalidSignature: "InvalidSignature",
	KindInvalidState:     "InvalidState",
	KindAlreadyExists:    "AlreadyExists",
	KindGateway:          "GatewayError",
	KindGatewayTimeout:   "GatewayTimeout",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UnknownError"
}

// Status maps the kind to an HTTP status code. Admin-required failures share
// 401 with missing credentials.
func (k ErrorKind) Status() int {
	switch k {
	case KindValidation, KindInvalidSignature, KindInvalidState, KindAlreadyExists:
		return http.StatusBadRequest
	case KindUnauthorized, KindForbidden:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to the caller; Err
// carries internal detail for logs only.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or 0 when err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

var (
	errOrderNotFound = newError(KindNotFound, "Order not found")
	errUserNotFound  = newError(KindNotFound, "User not found")
)
