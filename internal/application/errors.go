package application

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for the caller.
type ErrorKind int

const (
	// KindUserCorrectable failures are fixed by the user, e.g. wrong password.
	KindUserCorrectable ErrorKind = iota + 1
	// KindTransient failures come from unreachable or misbehaving remote sites.
	KindTransient
	// KindStructural failures are malformed requests or unreadable stored data.
	KindStructural
	// KindNotFound failures name a resource that does not exist.
	KindNotFound
	// KindSystem failures are local infrastructure errors such as storage.
	KindSystem
)

func (k ErrorKind) String() string {
	switch k {
	case KindUserCorrectable:
		return "user_correctable"
	case KindTransient:
		return "transient"
	case KindStructural:
		return "structural"
	case KindNotFound:
		return "not_found"
	case KindSystem:
		return "system"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrUnsupportedOperation is wrapped by errors for unknown request_type codes.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// Error is a typed failure returned by application services. Type is the
// machine-readable error_type rendered to clients.
type Error struct {
	Kind       ErrorKind
	Type       string
	Message    string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserFriendly reports whether the message is meant to be shown to end users.
func (e *Error) UserFriendly() bool {
	return e.Kind == KindUserCorrectable
}

// AsError extracts an *Error from err. Untyped errors become KindSystem.
func AsError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindSystem, Type: "system_error", Message: "internal error", Err: err}
}

func userError(typ, msg, suggestion string, err error) *Error {
	return &Error{Kind: KindUserCorrectable, Type: typ, Message: msg, Suggestion: suggestion, Err: err}
}

func transientError(typ, msg string, err error) *Error {
	return &Error{Kind: KindTransient, Type: typ, Message: msg, Suggestion: "try again later", Err: err}
}

func structuralError(typ, msg string, err error) *Error {
	return &Error{Kind: KindStructural, Type: typ, Message: msg, Err: err}
}

func notFoundError(typ, msg, suggestion string, err error) *Error {
	return &Error{Kind: KindNotFound, Type: typ, Message: msg, Suggestion: suggestion, Err: err}
}

func systemError(msg string, err error) *Error {
	return &Error{Kind: KindSystem, Type: "system_error", Message: msg, Err: err}
}
