package ufs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// State is a step of the probe sequence.
type State int

const (
	StateMappingResources State = iota
	StateAllocatingContext
	StateExtractingResources
	StateInitializing
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateMappingResources:
		return "mapping-resources"
	case StateAllocatingContext:
		return "allocating-context"
	case StateExtractingResources:
		return "extracting-resources"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ProbeError is returned by Probe. State is the step that failed; Stage names
// the extractor when the failure happened while extracting resources.
type ProbeError struct {
	Dev   string
	State State
	Stage string
	Err   error
}

func (e *ProbeError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("probe %s: %s: %s: %v", e.Dev, e.State, e.Stage, e.Err)
	}
	return fmt.Sprintf("probe %s: %s: %v", e.Dev, e.State, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Errno maps an error to a negative POSIX errno. Errors that carry no errno
// map to -EIO; nil maps to 0.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) && errno != 0 {
		return -int(errno)
	}
	return -int(unix.EIO)
}
