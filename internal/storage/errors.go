package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when a unique constraint would be violated,
// e.g. registering a username or email that is already taken.
var ErrDuplicate = errors.New("storage: duplicate")
