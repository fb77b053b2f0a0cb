// Package toolservertest provides an in-memory tool server connection for tests.
package toolservertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/simonyos/mcpchat/internal/toolserver"
)

// Call records one ExecuteTool invocation.
type Call struct {
	Tool string
	Args map[string]any
}

// Fake is a toolserver.Connection backed by Go functions.
type Fake struct {
	ServerName string
	Tools      []toolserver.ToolSpec
	InitErr    error
	ListErr    error

	// Handler answers tool calls. When nil every call echoes its arguments.
	Handler func(tool string, args map[string]any) (any, error)

	mu       sync.Mutex
	state    toolserver.State
	calls    []Call
	cleanups int
}

// New returns a Fake advertising the named tools with empty object schemas.
func New(name string, tools ...string) *Fake {
	f := &Fake{ServerName: name}
	for _, t := range tools {
		f.Tools = append(f.Tools, toolserver.ToolSpec{
			Name:        t,
			Description: fmt.Sprintf("%s tool", t),
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	return f
}

func (f *Fake) Name() string { return f.ServerName }

func (f *Fake) State() toolserver.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitErr != nil {
		f.state = toolserver.StateFailed
		return &toolserver.ConnectionError{Server: f.ServerName, Op: "initialize", Err: f.InitErr}
	}
	f.state = toolserver.StateReady
	return nil
}

func (f *Fake) ListTools(ctx context.Context) ([]toolserver.ToolSpec, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.Tools, nil
}

func (f *Fake) ExecuteTool(ctx context.Context, tool string, args map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Tool: tool, Args: args})
	handler := f.Handler
	f.mu.Unlock()

	if handler != nil {
		return handler(tool, args)
	}
	return map[string]any{"echo": args}, nil
}

func (f *Fake) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	f.state = toolserver.StateClosed
}

// Calls returns the recorded tool calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Cleanups returns how many times Cleanup ran.
func (f *Fake) Cleanups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

var _ toolserver.Connection = (*Fake)(nil)
