// Package repository defines the persistence ports of the booking core and
// their MySQL implementation.  The sentinel values below allow higher
// layers to distinguish failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when a slot, hold or booking row does not exist.
var ErrNotFound = errors.New("not found")

// ErrCapacityConflict is returned when a committed-count change would take
// a slot below zero or above its total capacity, or when a capacity change
// would drop below what is already claimed.
var ErrCapacityConflict = errors.New("capacity conflict")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.  Handlers translate it into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrDuplicate is returned when an insert collides with a unique key, such
// as a second booking for the same gateway payment reference.
var ErrDuplicate = errors.New("duplicate")
