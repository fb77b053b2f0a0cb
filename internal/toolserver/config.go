package toolserver

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Transport modes
const (
	ModeStdio          = "stdio"
	ModeSSE            = "sse"
	ModeHTTP           = "http"
	ModeStreamableHTTP = "streamable_http"
)

// DefaultTimeout bounds a single call on a stream connection.
const DefaultTimeout = 30 * time.Second

// Config describes how to reach one tool server.
type Config struct {
	Name           string            `yaml:"name" json:"name"`
	Mode           string            `yaml:"mode" json:"mode"`
	Command        string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args           Args              `yaml:"args,omitempty" json:"args,omitempty"`
	Env            Env               `yaml:"env,omitempty" json:"env,omitempty"`
	URL            string            `yaml:"url,omitempty" json:"url,omitempty"`
	SSEEndpoint    string            `yaml:"sse_endpoint,omitempty" json:"sse_endpoint,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	TimeoutSeconds int               `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Enabled        *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the server should be registered. Servers are enabled
// unless explicitly disabled.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// CallTimeout returns the per-call timeout.
func (c Config) CallTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks the fields required by the configured mode.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("tool server name is required")
	}
	switch c.Mode {
	case ModeStdio:
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("server %q: %w", c.Name, ErrMissingCommand)
		}
	case "", ModeSSE, ModeHTTP, ModeStreamableHTTP:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("server %q: %w", c.Name, ErrMissingURL)
		}
	default:
		return fmt.Errorf("server %q: %w: %s", c.Name, ErrUnknownMode, c.Mode)
	}
	return nil
}

// Args holds command arguments given either as a list or as a single line. A line is
// parsed as a JSON list when it looks like one and shell-split otherwise.
type Args struct {
	List []string
	Line string
}

// ArgsOf returns Args holding list.
func ArgsOf(list ...string) Args {
	return Args{List: list}
}

// Parse returns the argument vector.
func (a Args) Parse() ([]string, error) {
	if len(a.List) > 0 {
		return a.List, nil
	}
	line := strings.TrimSpace(a.Line)
	if line == "" {
		return nil, nil
	}
	if strings.HasPrefix(line, "[") {
		var list []string
		if err := json.Unmarshal([]byte(line), &list); err == nil {
			return list, nil
		}
	}
	parts, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse args %q: %w", line, err)
	}
	return parts, nil
}

// IsZero reports whether no arguments were given.
func (a Args) IsZero() bool {
	return len(a.List) == 0 && strings.TrimSpace(a.Line) == ""
}

// Normalized converts a line holding a JSON list into a list.
func (a Args) Normalized() Args {
	if len(a.List) == 0 && strings.HasPrefix(strings.TrimSpace(a.Line), "[") {
		var list []string
		if err := json.Unmarshal([]byte(a.Line), &list); err == nil {
			return Args{List: list}
		}
	}
	return a
}

func (a Args) MarshalJSON() ([]byte, error) {
	if len(a.List) > 0 {
		return json.Marshal(a.List)
	}
	if a.Line == "" {
		return []byte("[]"), nil
	}
	return json.Marshal(a.Line)
}

func (a *Args) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = Args{List: list}
		return nil
	}
	var line string
	if err := json.Unmarshal(data, &line); err != nil {
		return fmt.Errorf("args must be a string or a list of strings")
	}
	*a = Args{Line: line}
	return nil
}

func (a Args) MarshalYAML() (any, error) {
	if len(a.List) > 0 {
		return a.List, nil
	}
	return a.Line, nil
}

func (a *Args) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*a = Args{List: list}
	case yaml.ScalarNode:
		*a = Args{Line: node.Value}
	default:
		return fmt.Errorf("args must be a string or a list of strings")
	}
	return nil
}

// Env is a set of environment overrides. It accepts a mapping or a string holding a
// JSON object; a string that is not a valid object yields no overrides.
type Env map[string]string

func (e *Env) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err == nil {
		*e = m
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("env must be an object or a JSON string")
	}
	*e = parseEnvString(s)
	return nil
}

func (e *Env) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = parseEnvString(node.Value)
		return nil
	}
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return err
	}
	*e = m
	return nil
}

func parseEnvString(s string) Env {
	s = strings.TrimSpace(s)
	if s == "" {
		return Env{}
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Env{}
	}
	return m
}

// Merge returns parent with the overrides applied, in KEY=VALUE form.
func (e Env) Merge(parent []string) []string {
	out := make([]string, 0, len(parent)+len(e))
	for _, kv := range parent {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := e[key]; overridden {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range e {
		out = append(out, k+"="+v)
	}
	return out
}
