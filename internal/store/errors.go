package store

import (
	"errors"
	"fmt"
)

// Errors returned by every TaskStore and ResultStore implementation.
// Entity-specific not-found errors wrap ErrNotFound.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrDuplicate     = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransitionRejected means the task exists but its current status or
	// progress does not allow the requested update. Nothing was written.
	ErrTransitionRejected = errors.New("task transition rejected")

	ErrTaskNotFound       = fmt.Errorf("%w: task", ErrNotFound)
	ErrResultNotFound     = fmt.Errorf("%w: result", ErrNotFound)
	ErrResultItemNotFound = fmt.Errorf("%w: result item", ErrNotFound)
)
