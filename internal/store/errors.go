package store

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrCodeUsed is returned when an authorization code has already been
// consumed. Codes are strictly single-use.
var ErrCodeUsed = errors.New("authorization code already used")
