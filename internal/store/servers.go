package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simonyos/mcpchat/internal/toolserver"
)

// Server is a persisted tool server registration
type Server struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Mode        string            `json:"mode"`
	Command     string            `json:"command,omitempty"`
	Args        toolserver.Args   `json:"args"`
	Env         toolserver.Env    `json:"env"`
	URL         string            `json:"url,omitempty"`
	SSEEndpoint string            `json:"sse_endpoint,omitempty"`
	Headers     map[string]string `json:"headers"`
	Timeout     int               `json:"timeout"`
	Enabled     bool              `json:"enabled"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ToolServerConfig returns the connection config for the server.
func (s *Server) ToolServerConfig() toolserver.Config {
	enabled := s.Enabled
	return toolserver.Config{
		Name:           s.Name,
		Mode:           s.Mode,
		Command:        s.Command,
		Args:           s.Args,
		Env:            s.Env,
		URL:            s.URL,
		SSEEndpoint:    s.SSEEndpoint,
		Headers:        s.Headers,
		TimeoutSeconds: s.Timeout,
		Enabled:        &enabled,
	}
}

// ServerFromConfig builds a Server record from a connection config.
func ServerFromConfig(cfg toolserver.Config) *Server {
	return &Server{
		Name:        cfg.Name,
		Mode:        cfg.Mode,
		Command:     cfg.Command,
		Args:        cfg.Args,
		Env:         cfg.Env,
		URL:         cfg.URL,
		SSEEndpoint: cfg.SSEEndpoint,
		Headers:     cfg.Headers,
		Timeout:     cfg.TimeoutSeconds,
		Enabled:     cfg.IsEnabled(),
	}
}

const serverColumns = `id, name, mode, command, args, env, url, sse_endpoint, headers, timeout, enabled, created_at, updated_at`

// ListServers returns every server ordered by creation.
func (s *SQLiteStore) ListServers(ctx context.Context) ([]*Server, error) {
	return s.queryServers(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY created_at ASC, rowid ASC`)
}

// ListEnabledServers returns enabled servers ordered by creation.
func (s *SQLiteStore) ListEnabledServers(ctx context.Context) ([]*Server, error) {
	return s.queryServers(ctx, `SELECT `+serverColumns+` FROM servers WHERE enabled = 1 ORDER BY created_at ASC, rowid ASC`)
}

// GetServer retrieves a server by ID.
// Returns ErrNotFound if the server doesn't exist.
func (s *SQLiteStore) GetServer(ctx context.Context, id string) (*Server, error) {
	return s.queryServer(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
}

// GetServerByName retrieves a server by name.
// Returns ErrNotFound if the server doesn't exist.
func (s *SQLiteStore) GetServerByName(ctx context.Context, name string) (*Server, error) {
	return s.queryServer(ctx, `SELECT `+serverColumns+` FROM servers WHERE name = ?`, name)
}

// SaveServer inserts srv, or updates it when srv.ID is set. Args given as a line
// holding a JSON list are stored as a list.
func (s *SQLiteStore) SaveServer(ctx context.Context, srv *Server) error {
	if strings.TrimSpace(srv.Name) == "" {
		return fmt.Errorf("server name is required")
	}
	if srv.Mode == "" {
		srv.Mode = toolserver.ModeSSE
	}
	if srv.Timeout <= 0 {
		srv.Timeout = int(toolserver.DefaultTimeout / time.Second)
	}
	srv.Args = srv.Args.Normalized()

	args, err := json.Marshal(srv.Args)
	if err != nil {
		return fmt.Errorf("encoding args: %w", err)
	}
	env, err := json.Marshal(orEmpty(srv.Env))
	if err != nil {
		return fmt.Errorf("encoding env: %w", err)
	}
	headers, err := json.Marshal(orEmpty(srv.Headers))
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}

	now := s.timestamp()
	if srv.ID == "" {
		srv.ID = uuid.NewString()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO servers (`+serverColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, srv.ID, srv.Name, srv.Mode, srv.Command, string(args), string(env), srv.URL, srv.SSEEndpoint,
			string(headers), srv.Timeout, srv.Enabled, now, now)
		if err != nil {
			srv.ID = ""
			if isConstraintViolation(err) {
				return ErrDuplicateName
			}
			return fmt.Errorf("inserting server: %w", err)
		}
		srv.CreatedAt, _ = parseTime(now)
		srv.UpdatedAt = srv.CreatedAt
		s.logger.Debug("created server", "server", srv.Name, "id", srv.ID)
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE servers
		SET name = ?, mode = ?, command = ?, args = ?, env = ?, url = ?, sse_endpoint = ?,
			headers = ?, timeout = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, srv.Name, srv.Mode, srv.Command, string(args), string(env), srv.URL, srv.SSEEndpoint,
		string(headers), srv.Timeout, srv.Enabled, now, srv.ID)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("updating server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	srv.UpdatedAt, _ = parseTime(now)
	return nil
}

// UpsertServerByName saves srv, updating the existing record with the same name.
func (s *SQLiteStore) UpsertServerByName(ctx context.Context, srv *Server) error {
	existing, err := s.GetServerByName(ctx, srv.Name)
	switch {
	case err == nil:
		srv.ID = existing.ID
	case err != ErrNotFound:
		return err
	}
	return s.SaveServer(ctx, srv)
}

// DeleteServer removes a server.
func (s *SQLiteStore) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetServerEnabled enables or disables a server.
func (s *SQLiteStore) SetServerEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE servers SET enabled = ?, updated_at = ? WHERE id = ?", enabled, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("updating server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) queryServer(ctx context.Context, query string, arg any) (*Server, error) {
	srv, err := scanServer(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying server: %w", err)
	}
	return srv, nil
}

func (s *SQLiteStore) queryServers(ctx context.Context, query string) ([]*Server, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

func scanServer(row scanner) (*Server, error) {
	var srv Server
	var args, env, headers, createdAt, updatedAt string
	if err := row.Scan(&srv.ID, &srv.Name, &srv.Mode, &srv.Command, &args, &env, &srv.URL, &srv.SSEEndpoint,
		&headers, &srv.Timeout, &srv.Enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(args), &srv.Args); err != nil {
		return nil, fmt.Errorf("decoding args: %w", err)
	}
	if err := json.Unmarshal([]byte(env), &srv.Env); err != nil {
		return nil, fmt.Errorf("decoding env: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &srv.Headers); err != nil {
		return nil, fmt.Errorf("decoding headers: %w", err)
	}
	var err error
	if srv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if srv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &srv, nil
}

func orEmpty[M ~map[string]string](m M) M {
	if m == nil {
		return M{}
	}
	return m
}
