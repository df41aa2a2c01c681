package backend

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// Transport means no response was received.
	Transport Kind = iota
	// Unavailable means the circuit breaker refused the call.
	Unavailable
	// Upstream is a 5xx answer.
	Upstream
	// Rejected is a business rule rejection: 4xx or success=false.
	Rejected
	// NotFound is a 404 answer.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Unavailable:
		return "unavailable"
	case Upstream:
		return "upstream"
	case Rejected:
		return "rejected"
	case NotFound:
		return "not_found"
	}
	return "unknown"
}

type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s [%d]: %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same call may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == Transport || e.Kind == Unavailable || e.Kind == Upstream
}

// Message returns the backend provided message carried by err, or fallback
// when there is none.
func Message(err error, fallback string) string {
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return fallback
}

func IsNotFound(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == NotFound
}

func IsRetryable(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Retryable()
}
