// Package relay publishes chat turn events over NATS.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	ErrNotConnected     = errors.New("not connected to NATS")
	ErrConnectionFailed = errors.New("failed to connect to NATS")
)

// Config contains NATS connection configuration.
type Config struct {
	URL            string        `json:"url" yaml:"url"`
	SubjectPrefix  string        `json:"subject_prefix" yaml:"subject_prefix"`
	CredsFile      string        `json:"creds_file,omitempty" yaml:"creds_file,omitempty"`
	Token          string        `json:"token,omitempty" yaml:"token,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	ReconnectWait  time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	MaxReconnects  int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
}

// DefaultConfig returns the default NATS configuration.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL, // "nats://localhost:4222"
		SubjectPrefix:  "mcpchat",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  60,
	}
}

// Publisher sends turn events to per-session subjects.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials the NATS server. Zero-valued timing fields fall back to the defaults.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")

	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}

	opts := []nats.Option{
		nats.Name("mcpchat-relay"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("relay disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("relay reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				logger.Warn("relay connection closed", "error", err)
			}
		}),
	}
	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, err)
	}
	logger.Info("relay connected", "url", cfg.URL, "prefix", cfg.SubjectPrefix)

	return &Publisher{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Subject returns the subject events for sessionID are published on.
func Subject(prefix, sessionID string) string {
	return fmt.Sprintf("%s.sessions.%s.events", prefix, sanitizeToken(sessionID))
}

// sanitizeToken keeps a session id from introducing extra subject tokens or wildcards.
func sanitizeToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// Publish encodes event as JSON and publishes it. Failures are logged only.
func (p *Publisher) Publish(sessionID string, event any) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode relay event", "session_id", sessionID, "error", err)
		return
	}
	if err := p.conn.Publish(Subject(p.prefix, sessionID), data); err != nil {
		p.logger.Warn("failed to publish relay event", "session_id", sessionID, "error", err)
	}
}

// Subscribe delivers raw events for sessionID to fn until the publisher is closed.
func (p *Publisher) Subscribe(sessionID string, fn func(data []byte)) error {
	if p == nil || p.conn == nil {
		return ErrNotConnected
	}
	sub, err := p.conn.Subscribe(Subject(p.prefix, sessionID), func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to session events: %w", err)
	}
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
	return nil
}

// Flush waits for the server to acknowledge everything published so far.
func (p *Publisher) Flush() error {
	if p == nil || p.conn == nil {
		return ErrNotConnected
	}
	return p.conn.Flush()
}

// IsConnected reports whether the connection is currently up.
func (p *Publisher) IsConnected() bool {
	return p != nil && p.conn != nil && p.conn.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.mu.Lock()
	for _, sub := range p.subs {
		_ = sub.Unsubscribe()
	}
	p.subs = nil
	p.mu.Unlock()
	p.conn.Close()
}
