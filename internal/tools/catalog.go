package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/simonyos/mcpchat/internal/llm"
	"github.com/simonyos/mcpchat/internal/toolserver"
)

// Descriptor is one tool in the merged catalog.
type Descriptor struct {
	QualifiedName string         `json:"name"`
	Server        string         `json:"server"`
	Tool          string         `json:"tool"`
	Description   string         `json:"description"`
	Parameters    map[string]any `json:"parameters"`
}

// Catalog merges the tools of every registered server into one namespace of
// server.tool names.
type Catalog struct {
	registry *Registry
	logger   *slog.Logger
}

// NewCatalog creates a catalog over registry
func NewCatalog(registry *Registry, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{registry: registry, logger: logger.With("component", "tool_catalog")}
}

// Build lists the tools of every server concurrently. Servers that fail are logged
// and left out. The result is ordered by server registration order, then by the
// order each server reported its tools.
func (c *Catalog) Build(ctx context.Context) []Descriptor {
	names := c.registry.Names()
	perServer := make([][]Descriptor, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		conn, ok := c.registry.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, conn toolserver.Connection) {
			defer wg.Done()
			descs, err := c.list(ctx, conn)
			if err != nil {
				c.logger.Warn("skipping tool server", "server", conn.Name(), "error", err)
				return
			}
			perServer[i] = descs
		}(i, conn)
	}
	wg.Wait()

	var out []Descriptor
	for _, descs := range perServer {
		out = append(out, descs...)
	}
	return out
}

// ListServer returns the descriptors of a single server.
func (c *Catalog) ListServer(ctx context.Context, name string) ([]Descriptor, error) {
	conn, ok := c.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	return c.list(ctx, conn)
}

func (c *Catalog) list(ctx context.Context, conn toolserver.Connection) ([]Descriptor, error) {
	if err := conn.Initialize(ctx); err != nil {
		return nil, err
	}
	specs, err := conn.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	server := conn.Name()
	descs := make([]Descriptor, 0, len(specs))
	for _, s := range specs {
		descs = append(descs, Descriptor{
			QualifiedName: server + "." + s.Name,
			Server:        server,
			Tool:          s.Name,
			Description:   s.Description,
			Parameters:    parameterSchema(s.InputSchema),
		})
	}
	return descs, nil
}

// OpenAITools converts descriptors to the completion API's tool format
func OpenAITools(descs []Descriptor) []llm.Tool {
	result := make([]llm.Tool, 0, len(descs))
	for _, d := range descs {
		result = append(result, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        d.QualifiedName,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return result
}

// SplitQualifiedName splits server.tool on the first dot.
func SplitQualifiedName(name string) (server, tool string, err error) {
	server, tool, ok := strings.Cut(name, ".")
	if !ok || server == "" || tool == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return server, tool, nil
}
