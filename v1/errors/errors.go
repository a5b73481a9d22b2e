package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is returned when an operation is cancelled while waiting
	// for its locks. Nothing was granted.
	ErrAborted = errors.New("operation aborted before running")
	// ErrTimeout is wrapped together with ErrAborted when the deadline of
	// the waiting operation expired.
	ErrTimeout = errors.New("timeout")
	// ErrConnectionClosed is returned by a bus used after Close.
	ErrConnectionClosed = errors.New("connection closed")
)

// ContractError is the panic value raised when a caller breaks the
// acquire/release protocol.
type ContractError struct {
	Owner string
	Rule  string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("lock contract violated by %q: %s", e.Owner, e.Rule)
}
