package toolserver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ClientName and ClientVersion identify this process during the handshake.
var (
	ClientName    = "mcpchat"
	ClientVersion = "0.1.0"
)

// LaunchSpec is a resolved child process invocation.
type LaunchSpec struct {
	Command string
	Args    []string
	Env     []string
}

// StreamOptions locate a remote event-stream endpoint.
type StreamOptions struct {
	URL       string
	Headers   map[string]string
	Timeout   time.Duration
	Transport string // ModeSSE or ModeHTTP
}

// PipeDialer spawns a child process and completes the handshake on its streams.
type PipeDialer func(ctx context.Context, launch LaunchSpec) (Session, error)

// StreamDialer opens a session with a remote server. ctx lives as long as the
// session; opts.Timeout bounds the handshake.
type StreamDialer func(ctx context.Context, opts StreamOptions) (Session, error)

// mcpSession adapts an mcp-go client to Session.
type mcpSession struct {
	c *client.Client
}

// DialPipe is the default PipeDialer.
func DialPipe(ctx context.Context, launch LaunchSpec) (Session, error) {
	c, err := client.NewStdioMCPClient(launch.Command, launch.Env, launch.Args...)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", launch.Command, err)
	}
	if err := handshake(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &mcpSession{c: c}, nil
}

// DialStream is the default StreamDialer.
func DialStream(ctx context.Context, opts StreamOptions) (Session, error) {
	var (
		c   *client.Client
		err error
	)
	switch opts.Transport {
	case ModeHTTP, ModeStreamableHTTP:
		httpOpts := []transport.StreamableHTTPCOption{transport.WithHTTPTimeout(opts.Timeout)}
		if len(opts.Headers) > 0 {
			httpOpts = append(httpOpts, transport.WithHTTPHeaders(opts.Headers))
		}
		c, err = client.NewStreamableHttpClient(opts.URL, httpOpts...)
	default:
		var sseOpts []transport.ClientOption
		if len(opts.Headers) > 0 {
			sseOpts = append(sseOpts, transport.WithHeaders(opts.Headers))
		}
		c, err = client.NewSSEMCPClient(opts.URL, sseOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", opts.URL, err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start stream to %s: %w", opts.URL, err)
	}

	hsCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := handshake(hsCtx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &mcpSession{c: c}, nil
}

func handshake(ctx context.Context, c *client.Client) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    ClientName,
		Version: ClientVersion,
	}
	if _, err := c.Initialize(ctx, req); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

func (s *mcpSession) ListTools(ctx context.Context) (any, error) {
	res, err := s.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return toPlain(res)
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.c.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	return toPlain(res)
}

func (s *mcpSession) Close() error {
	return s.c.Close()
}

// joinEndpoint appends an optional endpoint path to a base URL.
func joinEndpoint(base, endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return base
	}
	if u, err := url.Parse(endpoint); err == nil && u.IsAbs() {
		return endpoint
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}
