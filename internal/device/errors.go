package device

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when a device cannot be found or queried.
	ErrUnavailable = errors.New("device: unavailable")

	// ErrOutOfMemory is returned when an allocation exceeds the device budget.
	ErrOutOfMemory = errors.New("device: out of memory")

	// ErrLaunch is returned when a kernel launch or execution fails.
	ErrLaunch = errors.New("device: kernel execution failed")

	// ErrBusy is returned by Reset while allocations are live.
	ErrBusy = errors.New("device: allocations still live")
)

func executionError(rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("%w: %w", ErrLaunch, recErr)
	}
	return fmt.Errorf("%w: %v", ErrLaunch, rec)
}
