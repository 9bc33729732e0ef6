package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTransportUnavailable ErrorKind = "TRANSPORT_UNAVAILABLE"
	KindTransportProtocol    ErrorKind = "TRANSPORT_PROTOCOL"
	KindCompletion           ErrorKind = "COMPLETION_FAILURE"
	KindPersistence          ErrorKind = "PERSISTENCE_FAILURE"
	KindValidation           ErrorKind = "INVALID_INPUT"
)

// Sentinels for errors.Is. Any *Error of the matching kind satisfies them.
var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrTransportProtocol    = errors.New("transport protocol error")
	ErrCompletion           = errors.New("completion failure")
	ErrPersistence          = errors.New("persistence failure")
	ErrValidation           = errors.New("invalid input")
)

var kindSentinels = map[ErrorKind]error{
	KindTransportUnavailable: ErrTransportUnavailable,
	KindTransportProtocol:    ErrTransportProtocol,
	KindCompletion:           ErrCompletion,
	KindPersistence:          ErrPersistence,
	KindValidation:           ErrValidation,
}

type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return kindSentinels[e.Kind] == target
}

func NewError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
