package model

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrSignatureInvalid    = errors.New("notification signature invalid")
	ErrUpstreamUnavailable = errors.New("payment processor unavailable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnresolvedOwner     = errors.New("notification owner unresolved")
	ErrNotFound            = errors.New("not found")
)

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
