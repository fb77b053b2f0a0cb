package toolserver

import (
	"fmt"
	"log/slog"
)

// New builds the connection matching cfg.Mode. Nothing is started.
func New(cfg Config, logger *slog.Logger) (Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeStdio:
		return NewPipeServer(cfg, logger), nil
	case "", ModeSSE, ModeHTTP, ModeStreamableHTTP:
		return NewStreamServer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, cfg.Mode)
	}
}
