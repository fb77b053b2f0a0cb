package toolserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	defaultAttempts = 3
	defaultBackoff  = time.Second
)

// PipeServer is a tool server running as a child process.
type PipeServer struct {
	cfg    Config
	logger *slog.Logger

	dial     PipeDialer
	lookPath func(string) (string, error)
	attempts int
	backoff  time.Duration

	mu      sync.Mutex // guards state and session
	state   State
	session Session

	callMu    sync.Mutex // serializes calls on the child's streams
	cleanupMu sync.Mutex
}

// PipeOption configures a PipeServer.
type PipeOption func(*PipeServer)

// WithPipeDialer replaces the process launcher.
func WithPipeDialer(d PipeDialer) PipeOption {
	return func(p *PipeServer) { p.dial = d }
}

// WithLookPath replaces the PATH lookup used to resolve the command.
func WithLookPath(fn func(string) (string, error)) PipeOption {
	return func(p *PipeServer) { p.lookPath = fn }
}

// WithRetry sets the attempt count and the fixed delay between attempts.
func WithRetry(attempts int, backoff time.Duration) PipeOption {
	return func(p *PipeServer) {
		if attempts > 0 {
			p.attempts = attempts
		}
		p.backoff = backoff
	}
}

// NewPipeServer creates a PipeServer. Nothing is spawned until Initialize.
func NewPipeServer(cfg Config, logger *slog.Logger, opts ...PipeOption) *PipeServer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PipeServer{
		cfg:      cfg,
		logger:   logger.With("server", cfg.Name, "mode", ModeStdio),
		dial:     DialPipe,
		lookPath: exec.LookPath,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PipeServer) Name() string { return p.cfg.Name }

func (p *PipeServer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Initialize spawns the process and performs the handshake. It is a no-op when the
// connection is already ready.
func (p *PipeServer) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked(ctx)
}

func (p *PipeServer) initLocked(ctx context.Context) error {
	if p.state == StateReady {
		return nil
	}
	p.state = StateInitializing

	launch, err := p.launchSpec()
	if err != nil {
		p.state = StateFailed
		return &ConnectionError{Server: p.cfg.Name, Op: "resolve", Err: err}
	}

	session, err := p.dial(ctx, launch)
	if err != nil {
		p.state = StateFailed
		p.logger.Warn("tool server handshake failed", "command", launch.Command, "error", err)
		return &ConnectionError{Server: p.cfg.Name, Op: "initialize", Err: err}
	}

	p.session = session
	p.state = StateReady
	p.logger.Info("tool server ready", "command", launch.Command)
	return nil
}

func (p *PipeServer) launchSpec() (LaunchSpec, error) {
	if p.cfg.Command == "" {
		return LaunchSpec{}, ErrMissingCommand
	}
	command, err := p.resolveCommand(p.cfg.Command)
	if err != nil {
		return LaunchSpec{}, err
	}
	args, err := p.cfg.Args.Parse()
	if err != nil {
		return LaunchSpec{}, err
	}
	return LaunchSpec{
		Command: command,
		Args:    args,
		Env:     p.cfg.Env.Merge(os.Environ()),
	}, nil
}

// resolveCommand looks the command up on PATH. The npx alias is resolved to the
// installed binary the same way.
func (p *PipeServer) resolveCommand(command string) (string, error) {
	path, err := p.lookPath(command)
	if err != nil || path == "" {
		return "", fmt.Errorf("%w: %s", ErrCommandNotFound, command)
	}
	return path, nil
}

// ListTools returns the tools advertised by the child. It requires a completed
// handshake.
func (p *PipeServer) ListTools(ctx context.Context) ([]ToolSpec, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	session, state := p.current()
	if state != StateReady || session == nil {
		return nil, &NotInitializedError{Server: p.cfg.Name, State: state}
	}

	raw, err := session.ListTools(ctx)
	if err != nil {
		return nil, &ConnectionError{Server: p.cfg.Name, Op: "list tools", Err: err}
	}
	return NormalizeTools(raw, p.logger)
}

// ExecuteTool calls a tool, initializing the connection first if needed. A
// failed handshake is returned as is; only the call itself is retried, with a
// fixed delay between attempts.
func (p *PipeServer) ExecuteTool(ctx context.Context, tool string, args map[string]any) (any, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	p.mu.Lock()
	if err := p.initLocked(ctx); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	session := p.session
	p.mu.Unlock()

	if args == nil {
		args = map[string]any{}
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &ToolExecutionError{Server: p.cfg.Name, Tool: tool, Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(p.backoff):
			}
		}

		result, err := session.CallTool(ctx, tool, args)
		if err == nil {
			return result, nil
		}
		lastErr = err
		p.logger.Warn("tool call failed", "tool", tool, "attempt", attempt, "max_attempts", p.attempts, "error", err)
	}
	return nil, &ToolExecutionError{Server: p.cfg.Name, Tool: tool, Attempts: p.attempts, Err: lastErr}
}

func (p *PipeServer) current() (Session, State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.state
}

// Cleanup terminates the child process. Safe to call any number of times.
func (p *PipeServer) Cleanup() {
	p.cleanupMu.Lock()
	defer p.cleanupMu.Unlock()

	p.callMu.Lock()
	defer p.callMu.Unlock()

	p.mu.Lock()
	session := p.session
	p.session = nil
	wasClosed := p.state == StateClosed
	p.state = StateClosed
	p.mu.Unlock()

	if session == nil {
		if !wasClosed {
			p.logger.Debug("tool server closed before it was started")
		}
		return
	}
	if err := session.Close(); err != nil {
		p.logger.Warn("error closing tool server", "error", err)
		return
	}
	p.logger.Info("tool server closed")
}

var _ Connection = (*PipeServer)(nil)
