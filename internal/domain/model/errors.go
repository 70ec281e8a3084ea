package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind enumerates the protocol error codes shared by the HTTP
// and WebSocket surfaces.
type ErrorKind string

const (
	ErrAuthRequired       ErrorKind = "AUTH_REQUIRED"
	ErrInvalidToken       ErrorKind = "INVALID_TOKEN"
	ErrInvalidAPIToken    ErrorKind = "INVALID_API_TOKEN"
	ErrDeviceNotFound     ErrorKind = "DEVICE_NOT_FOUND"
	ErrInvalidJSON        ErrorKind = "INVALID_JSON"
	ErrInvalidPacket      ErrorKind = "INVALID_PACKET"
	ErrUnsupportedVersion ErrorKind = "UNSUPPORTED_VERSION"
	ErrLimitExceeded      ErrorKind = "LIMIT_EXCEEDED"
	ErrBackpressure       ErrorKind = "BACKPRESSURE"
)

// HTTPStatus maps the kind to its REST status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrAuthRequired, ErrInvalidToken, ErrInvalidAPIToken:
		return http.StatusUnauthorized
	case ErrDeviceNotFound:
		return http.StatusNotFound
	case ErrInvalidJSON, ErrInvalidPacket, ErrUnsupportedVersion:
		return http.StatusBadRequest
	case ErrLimitExceeded:
		return http.StatusForbidden
	case ErrBackpressure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a protocol error with a peer-facing message. The relay never
// leaks internal details through it.
type Error struct {
	Kind    ErrorKind
	Message string
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NewErrorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// AsError extracts a protocol error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
