package toolserver

import (
	"context"
	"log/slog"
	"sync"
)

// StreamServer is a tool server reached over a persistent HTTP event stream.
type StreamServer struct {
	cfg    Config
	logger *slog.Logger
	dial   StreamDialer

	mu      sync.Mutex
	state   State
	session Session
	cancel  context.CancelFunc // ends the session's event stream

	cleanupMu sync.Mutex
}

// StreamOption configures a StreamServer.
type StreamOption func(*StreamServer)

// WithStreamDialer replaces the session opener.
func WithStreamDialer(d StreamDialer) StreamOption {
	return func(s *StreamServer) { s.dial = d }
}

// NewStreamServer creates a StreamServer. The session is opened lazily.
func NewStreamServer(cfg Config, logger *slog.Logger, opts ...StreamOption) *StreamServer {
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeSSE
	}
	s := &StreamServer{
		cfg:    cfg,
		logger: logger.With("server", cfg.Name, "mode", mode),
		dial:   DialStream,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StreamServer) Name() string { return s.cfg.Name }

func (s *StreamServer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize opens the session. Idempotent while ready.
func (s *StreamServer) Initialize(ctx context.Context) error {
	_, err := s.ensure(ctx)
	return err
}

func (s *StreamServer) ensure(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReady && s.session != nil {
		return s.session, nil
	}
	s.state = StateInitializing

	opts := StreamOptions{
		URL:       joinEndpoint(s.cfg.URL, s.cfg.SSEEndpoint),
		Headers:   s.cfg.Headers,
		Timeout:   s.cfg.CallTimeout(),
		Transport: s.cfg.Mode,
	}
	if opts.URL == "" {
		s.state = StateFailed
		return nil, &ConnectionError{Server: s.cfg.Name, Op: "initialize", Err: ErrMissingURL}
	}

	// The event stream outlives this call, so it hangs off its own context.
	// The caller's ctx only bounds the dial.
	sessCtx, sessCancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, sessCancel)

	session, err := s.dial(sessCtx, opts)
	if !stop() && err == nil {
		_ = session.Close()
		err = ctx.Err()
	}
	if err != nil {
		sessCancel()
		s.state = StateFailed
		s.logger.Warn("tool server connect failed", "url", opts.URL, "error", err)
		return nil, &ConnectionError{Server: s.cfg.Name, Op: "initialize", Err: err}
	}
	s.session = session
	s.cancel = sessCancel
	s.state = StateReady
	s.logger.Info("tool server ready", "url", opts.URL)
	return session, nil
}

// ListTools returns the advertised tools, connecting first if needed.
func (s *StreamServer) ListTools(ctx context.Context) ([]ToolSpec, error) {
	session, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
	defer cancel()

	raw, err := session.ListTools(callCtx)
	if err != nil {
		return nil, &ConnectionError{Server: s.cfg.Name, Op: "list tools", Err: err}
	}
	return NormalizeTools(raw, s.logger)
}

// ExecuteTool calls a tool once; transport errors are returned as they are.
func (s *StreamServer) ExecuteTool(ctx context.Context, tool string, args map[string]any) (any, error) {
	session, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
	defer cancel()

	result, err := session.CallTool(callCtx, tool, args)
	if err != nil {
		return nil, &ToolExecutionError{Server: s.cfg.Name, Tool: tool, Attempts: 1, Err: err}
	}
	return result, nil
}

// Cleanup closes the session. Safe when already closed.
func (s *StreamServer) Cleanup() {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()

	s.mu.Lock()
	session, cancel := s.session, s.cancel
	s.session, s.cancel = nil, nil
	s.state = StateClosed
	s.mu.Unlock()

	if session == nil {
		return
	}
	err := session.Close()
	cancel()
	if err != nil {
		s.logger.Warn("error closing tool server", "error", err)
		return
	}
	s.logger.Info("tool server closed")
}

var _ Connection = (*StreamServer)(nil)
