package session

import "errors"

var (
	// ErrReadyTimeout means the index file did not appear within the
	// configured ready timeout.
	ErrReadyTimeout = errors.New("timed out waiting for the index file")
	// ErrExitedBeforeReady means the pipeline finished without ever
	// producing the index file.
	ErrExitedBeforeReady = errors.New("pipeline exited before the index file appeared")
	// ErrStopped means the session was stopped or restarted while a start
	// was waiting for readiness.
	ErrStopped = errors.New("session stopped while starting")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("session manager closed")
	// ErrInvalidKey rejects keys that are not a single safe path element.
	ErrInvalidKey = errors.New("invalid session key")
	// ErrSourceNotFound means the source media file does not exist.
	ErrSourceNotFound = errors.New("source file not found")
	// ErrNoInputs means a probe produced no input description.
	ErrNoInputs = errors.New("probe found no inputs")
)

// IsReadinessError reports whether err is a failure to become ready, as
// opposed to a failure to launch.
func IsReadinessError(err error) bool {
	return errors.Is(err, ErrReadyTimeout) || errors.Is(err, ErrExitedBeforeReady)
}
