package trados

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed API call.
type ErrorKind int

const (
	KindUnauthorized ErrorKind = iota + 1
	KindRateLimited
	KindServerError
	KindMalformedResponse
)

var (
	ErrUnauthorized      = errors.New("access token rejected")
	ErrRateLimited       = errors.New("api rate limited")
	ErrServerError       = errors.New("api server error")
	ErrMalformedResponse = errors.New("malformed api response")

	errUnclassified = errors.New("api request failed")
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindRateLimited:
		return ErrRateLimited
	case KindServerError:
		return ErrServerError
	case KindMalformedResponse:
		return ErrMalformedResponse
	default:
		return errUnclassified
	}
}

// APIError is returned by every Client call that reached the point of
// issuing a request.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	// RetryAfter is the server's hint on KindRateLimited, zero if absent.
	RetryAfter time.Duration
	Endpoint   string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s: %s", e.Endpoint, msg)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s, retry after %s", msg, e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether the same request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.Kind == KindServerError
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
