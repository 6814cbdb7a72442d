package types

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrDuplicateVote   = errors.New("duplicate vote")
	ErrInvalidScope    = errors.New("invalid scope")
	ErrInvalidInput    = errors.New("invalid input")
)
