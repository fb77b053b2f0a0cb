// Package toolserver implements connections to external tool servers speaking the
// Model Context Protocol, either over a child process's standard streams or over a
// persistent HTTP event stream.
package toolserver

import (
	"context"
	"encoding/json"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ToolSpec is one tool as advertised by a server, with its parameter schema in
// JSON-Schema object form.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Connection is the capability every tool server transport provides.
type Connection interface {
	Name() string
	State() State

	// Initialize performs the transport setup and protocol handshake.
	Initialize(ctx context.Context) error

	ListTools(ctx context.Context) ([]ToolSpec, error)

	// ExecuteTool invokes a tool and returns its raw result.
	ExecuteTool(ctx context.Context, tool string, args map[string]any) (any, error)

	// Cleanup releases every resource held by the connection. It is idempotent and
	// never fails; close errors are logged.
	Cleanup()
}

// Session is an established protocol session with a tool server.
type Session interface {
	ListTools(ctx context.Context) (any, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	Close() error
}

// toPlain round-trips v through JSON so callers only see maps, slices and scalars.
func toPlain(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
