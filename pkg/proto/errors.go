package proto

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is returned for malformed or incomplete envelopes.
	ErrValidation = errors.New("validation error")
	// ErrRateLimited is returned when a sender exceeded its message budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrAuth is returned when a handshake is rejected.
	ErrAuth = errors.New("authentication failed")
	// ErrConnectionLost is a transport level failure.
	ErrConnectionLost = errors.New("connection lost")
	// ErrStoreUnavailable is returned when the durable store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDuplicateID is returned by a store when a message id already exists.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrTooManyConnections is returned when the server is at capacity.
	ErrTooManyConnections = errors.New("too many connections")
)

// Code is the wire representation of an error kind.
type Code string

const (
	CodeValidation         Code = "validation"
	CodeRateLimited        Code = "rate_limited"
	CodeAuth               Code = "auth"
	CodeStoreUnavailable   Code = "store_unavailable"
	CodeTooManyConnections Code = "too_many_connections"
	CodeConnectionLost     Code = "connection_lost"
	CodeInternal           Code = "internal"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrValidation, CodeValidation},
	{ErrRateLimited, CodeRateLimited},
	{ErrAuth, CodeAuth},
	{ErrStoreUnavailable, CodeStoreUnavailable},
	{ErrTooManyConnections, CodeTooManyConnections},
	{ErrConnectionLost, CodeConnectionLost},
}

// CodeOf classifies err into a wire code.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorFromCode rebuilds an error received over the wire so that it can be
// matched with errors.Is.
func ErrorFromCode(code Code, msg string) error {
	for _, c := range codes {
		if c.code == code {
			return fmt.Errorf("%w: %s", c.err, msg)
		}
	}
	return errors.New(msg)
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RateLimitError is returned when a publish is dropped by the rate limiter.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry in %s", e.RetryAfter.Round(time.Millisecond))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
