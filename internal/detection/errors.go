package detection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is matched by every *NotReadyError.
	ErrNotReady = errors.New("detector not ready")

	// ErrInputFormat is returned when Detect receives an image in the wrong
	// pixel format.
	ErrInputFormat = errors.New("unsupported input format")
)

// ModelLoadError reports that a model file could not be parsed into a
// detector, or that the backend is not compiled in.
type ModelLoadError struct {
	Backend Backend
	Path    string
	Err     error
}

func (e *ModelLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load %s model: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("load %s model %s: %v", e.Backend, e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// NotReadyError is returned when a detector is requested from a slot that is
// not Ready. Cause holds the load failure for Failed slots.
type NotReadyError struct {
	Backend Backend
	State   State
	Cause   error
}

func (e *NotReadyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s detector %s: %v", e.Backend, e.State, e.Cause)
	}
	return fmt.Sprintf("%s detector %s", e.Backend, e.State)
}

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }

func (e *NotReadyError) Unwrap() error { return e.Cause }
