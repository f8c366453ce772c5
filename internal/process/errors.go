package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

var (
	// ErrNotFound reports that the executable does not exist or is not on PATH.
	ErrNotFound = errors.New("executable not found")
	// ErrPermission reports that the executable exists but cannot be run.
	ErrPermission = errors.New("permission denied")
)

// SpawnError is returned by Spawn when the child process could not be launched.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Is lets callers match on ErrNotFound and ErrPermission without caring which
// layer (PATH lookup, stat, execve) produced the failure.
func (e *SpawnError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist)
	case ErrPermission:
		return errors.Is(e.Err, fs.ErrPermission)
	}
	return false
}

// Reason is a short label for metrics and API responses.
func (e *SpawnError) Reason() string {
	switch {
	case errors.Is(e, ErrNotFound):
		return "not_found"
	case errors.Is(e, ErrPermission):
		return "permission_denied"
	default:
		return "start_failed"
	}
}
