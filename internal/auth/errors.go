package auth

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a token could not be obtained.
type ErrorKind int

const (
	KindRequestFailed ErrorKind = iota + 1
	KindDenied
	KindExpired
	KindUnreachable
	KindRateLimited
)

// Sentinels for errors.Is; every *AuthError unwraps to the one matching its kind.
var (
	ErrRequestFailed = errors.New("token request failed")
	ErrDenied        = errors.New("authorization denied")
	ErrExpired       = errors.New("authorization expired")
	ErrUnreachable   = errors.New("token endpoint unreachable")
	ErrRateLimited   = errors.New("token request quota exhausted")

	errUnclassified = errors.New("authorization failed")
)

func (k ErrorKind) String() string {
	switch k {
	case KindRequestFailed:
		return "request_failed"
	case KindDenied:
		return "denied"
	case KindExpired:
		return "expired"
	case KindUnreachable:
		return "unreachable"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindRequestFailed:
		return ErrRequestFailed
	case KindDenied:
		return ErrDenied
	case KindExpired:
		return ErrExpired
	case KindUnreachable:
		return ErrUnreachable
	case KindRateLimited:
		return ErrRateLimited
	default:
		return errUnclassified
	}
}

// AuthError is returned by the token store and the device code authorizer.
type AuthError struct {
	Kind ErrorKind
	// RetryAfter is set for KindRateLimited: the time until the oldest
	// counted request leaves the quota window.
	RetryAfter time.Duration
	Err        error
}

func (e *AuthError) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Kind == KindRateLimited {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter.Round(time.Second))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newAuthError(kind ErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

// RetryAfter extracts the wait hint from a rate limited AuthError.
func RetryAfter(err error) (time.Duration, bool) {
	var ae *AuthError
	if errors.As(err, &ae) && ae.Kind == KindRateLimited {
		return ae.RetryAfter, true
	}
	return 0, false
}
