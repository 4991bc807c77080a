package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can react without string matching.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindNetwork    ErrorKind = "network"
	KindBroker     ErrorKind = "broker"
)

// Error is a classified failure. Err, when set, is the underlying cause and
// stays reachable through errors.Unwrap.
type Error struct {
	Kind    ErrorKind
	Msg     string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind with an empty message, so
// errors.Is(err, ErrAuth) works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrAuth       = &Error{Kind: KindAuth}
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrBroker     = &Error{Kind: KindBroker}
)

// KindOf returns the kind of the outermost classified error in err's chain,
// or "" when none is present.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Authf returns an auth error.
func Authf(format string, args ...any) error {
	return &Error{Kind: KindAuth, Msg: fmt.Sprintf(format, args...)}
}

// Validationf returns a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf returns a not-found error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// NetworkError wraps a transport failure.
func NetworkError(msg string, err error) error {
	return &Error{Kind: KindNetwork, Msg: msg, Err: err}
}

// BrokerError reports an application-level rejection from a venue.
func BrokerError(msg string, details map[string]any) error {
	return &Error{Kind: KindBroker, Msg: msg, Details: details}
}

// NewError returns a classified error carrying diagnostic details.
func NewError(kind ErrorKind, msg string, details map[string]any) error {
	return &Error{Kind: kind, Msg: msg, Details: details}
}
