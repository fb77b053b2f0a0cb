package toolserver

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrUnknownMode     = errors.New("unknown tool server mode")
	ErrMissingCommand  = errors.New("command is required for stdio servers")
	ErrMissingURL      = errors.New("url is required for sse and http servers")
	ErrCommandNotFound = errors.New("command not found")
)

// ConnectionError means the server could not be reached or the handshake failed.
type ConnectionError struct {
	Server string
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tool server %q: %s: %v", e.Server, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotInitializedError is returned when an operation needs a completed handshake.
type NotInitializedError struct {
	Server string
	State  State
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("tool server %q is not initialized (state %s)", e.Server, e.State)
}

// ToolExecutionError reports a tool call that failed after all attempts.
type ToolExecutionError struct {
	Server   string
	Tool     string
	Attempts int
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s.%s failed after %d attempt(s): %v", e.Server, e.Tool, e.Attempts, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
