package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTask is returned for operations on an id the supervisor never issued.
	ErrUnknownTask = errors.New("unknown task")

	// ErrInvalidRequest is returned by AddTask when the request cannot be started.
	ErrInvalidRequest = errors.New("invalid request")
)

// UnknownTaskError carries the id that could not be found.
type UnknownTaskError struct {
	ID int64
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task id %d", e.ID)
}

func (e *UnknownTaskError) Unwrap() error {
	return ErrUnknownTask
}
