// Package apierr classifies errors into the kinds the server API maps to
// HTTP status codes (spec §7).
package apierr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind is the classification of an error as it crosses a component
// boundary. Handlers map Kind to an HTTP status; nothing else inspects
// error text.
type Kind int

const (
	// KindUnexpected is the zero value: an error with no specific kind,
	// mapped to 500.
	KindUnexpected Kind = iota
	KindBadRequest
	KindNotFound
	KindConflict
	KindPayloadTooLarge
	KindServiceUnavailable
	KindCorrupt
	KindTransient
)

// Error wraps an underlying error with a Kind.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// KindOf returns err's Kind, or KindUnexpected if err is nil or not an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnexpected
}

func new_(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

func BadRequest(msg string) error                 { return new_(KindBadRequest, msg, nil) }
func NotFound(msg string) error                   { return new_(KindNotFound, msg, nil) }
func Conflict(msg string) error                   { return new_(KindConflict, msg, nil) }
func PayloadTooLarge(msg string) error            { return new_(KindPayloadTooLarge, msg, nil) }
func ServiceUnavailable(msg string) error         { return new_(KindServiceUnavailable, msg, nil) }
func Corrupt(msg string) error                    { return new_(KindCorrupt, msg, nil) }
func Transient(msg string) error                  { return new_(KindTransient, msg, nil) }
func Wrap(kind Kind, msg string, err error) error { return new_(kind, msg, errors.WithStack(err)) }

// StatusCode returns the HTTP status code for the error per spec §4.5/§7.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindCorrupt:
		return http.StatusInternalServerError
	case KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
