package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/simonyos/mcpchat/internal/toolserver"
)

// Factory builds a connection from its configuration.
type Factory func(cfg toolserver.Config, logger *slog.Logger) (toolserver.Connection, error)

// Registry manages tool server connections by name. Registration order is kept so
// the catalog is stable.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]toolserver.Connection
	order   []string
	factory Factory
	logger  *slog.Logger

	cleanups sync.WaitGroup
}

// NewRegistry creates a new tool server registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:   make(map[string]toolserver.Connection),
		factory: toolserver.New,
		logger:  logger.With("component", "tool_registry"),
	}
}

// SetFactory replaces the connection factory used by Add.
func (r *Registry) SetFactory(f Factory) {
	r.factory = f
}

// Add builds a connection for cfg and registers it. Disabled configs are ignored.
// An existing connection with the same name is cleaned up and replaced.
func (r *Registry) Add(cfg toolserver.Config) error {
	if !cfg.IsEnabled() {
		r.logger.Debug("skipping disabled tool server", "server", cfg.Name)
		return nil
	}
	conn, err := r.factory(cfg, r.logger)
	if err != nil {
		return fmt.Errorf("add tool server %q: %w", cfg.Name, err)
	}
	r.Register(conn)
	return nil
}

// Register adds a ready-made connection under its name.
func (r *Registry) Register(conn toolserver.Connection) {
	name := conn.Name()

	r.mu.Lock()
	old, exists := r.conns[name]
	r.conns[name] = conn
	if !exists {
		r.order = append(r.order, name)
	}
	r.mu.Unlock()

	if exists && old != conn {
		r.logger.Info("replacing tool server", "server", name)
		old.Cleanup()
	} else {
		r.logger.Info("registered tool server", "server", name)
	}
}

// Remove unregisters a connection and cleans it up in the background. It reports
// whether the name was registered.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	conn, ok := r.conns[name]
	if ok {
		delete(r.conns, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.cleanups.Add(1)
	go func() {
		defer r.cleanups.Done()
		conn.Cleanup()
	}()
	r.logger.Info("removed tool server", "server", name)
	return true
}

// Get retrieves a connection by name
func (r *Registry) Get(name string) (toolserver.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[name]
	return c, ok
}

// Names returns the registered names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Load registers every config, logging the ones that fail.
func (r *Registry) Load(cfgs []toolserver.Config) {
	for _, cfg := range cfgs {
		if err := r.Add(cfg); err != nil {
			r.logger.Warn("failed to add tool server", "server", cfg.Name, "error", err)
		}
	}
}

// Execute runs a tool on the named server.
func (r *Registry) Execute(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	conn, ok := r.Get(server)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, server)
	}
	return conn.ExecuteTool(ctx, tool, args)
}

// Close cleans up every connection and waits for pending background cleanups.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]toolserver.Connection, 0, len(r.order))
	for _, name := range r.order {
		conns = append(conns, r.conns[name])
	}
	r.conns = make(map[string]toolserver.Connection)
	r.order = nil
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c toolserver.Connection) {
			defer wg.Done()
			c.Cleanup()
		}(c)
	}
	wg.Wait()
	r.cleanups.Wait()
}
