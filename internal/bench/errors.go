package bench

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is matched by every configuration
// validation failure.
var ErrInvalidConfig = errors.New("invalid benchmark configuration")

// WriteError is returned by a write task whose store
// rejected a write. It wraps the store's error.
type WriteError struct {
	TaskID int
	// Rows successfully written by the task before the failure.
	Rows uint64
	Err  error
}

func (we *WriteError) Error() string {
	return fmt.Sprintf("write task %d failed after %d rows: %v", we.TaskID, we.Rows, we.Err)
}

func (we *WriteError) Unwrap() error {
	return we.Err
}

func invalidConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
