package host

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveWindow is returned when the surface has no window to read
	ErrNoActiveWindow = errors.New("no active window")
	// ErrHandleReleased is wrapped by ResourceReleaseError on double release
	ErrHandleReleased = errors.New("node handle already released")
)

// TreeAccessError reports that the root or a node became unavailable,
// typically mid-transition between screens.
type TreeAccessError struct {
	Op  string
	Err error
}

func (e *TreeAccessError) Error() string {
	return fmt.Sprintf("tree access failed during %s: %v", e.Op, e.Err)
}

func (e *TreeAccessError) Unwrap() error { return e.Err }

// GestureDispatchError reports a rejected or cancelled gesture
type GestureDispatchError struct {
	Gesture   string
	Cancelled bool
	Err       error
}

func (e *GestureDispatchError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("gesture %s cancelled: %v", e.Gesture, e.Err)
	}
	return fmt.Sprintf("gesture %s rejected: %v", e.Gesture, e.Err)
}

func (e *GestureDispatchError) Unwrap() error { return e.Err }

// ResourceReleaseError reports a failure releasing a node handle
type ResourceReleaseError struct {
	Err error
}

func (e *ResourceReleaseError) Error() string {
	return fmt.Sprintf("release node handle: %v", e.Err)
}

func (e *ResourceReleaseError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a cancelled gesture dispatch
func IsCancelled(err error) bool {
	var gde *GestureDispatchError
	return errors.As(err, &gde) && gde.Cancelled
}
