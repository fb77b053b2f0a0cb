package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simonyos/mcpchat/internal/toolserver"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig        `yaml:"server"`
	LLM      LLMConfig           `yaml:"llm"`
	Database DatabaseConfig      `yaml:"database"`
	Chat     ChatConfig          `yaml:"chat"`
	Logging  LoggingConfig       `yaml:"logging"`
	NATS     NATSConfig          `yaml:"nats"`
	Servers  []toolserver.Config `yaml:"servers"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr           string        `yaml:"http_addr"`
	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// LLMConfig holds the completion API configuration
type LLMConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ChatConfig holds orchestration settings
type ChatConfig struct {
	MaxRounds    int    `yaml:"max_rounds"`
	SystemPrompt string `yaml:"system_prompt"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NATSConfig holds the optional event relay configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// EnvConfigPath names the environment variable that overrides the config path
const EnvConfigPath = "MCPCHAT_CONFIG"

// Dir returns the configuration directory, following XDG_CONFIG_HOME when set.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mcpchat")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "mcpchat")
}

// ResolvePath returns the config file to use. An explicit path wins over the
// MCPCHAT_CONFIG variable, which wins over the default location.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the configuration used when no file exists
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, expanding ${VAR} references first.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.LLM.TimeoutRaw != "" {
		cfg.LLM.Timeout, err = time.ParseDuration(cfg.LLM.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing llm.timeout %q: %w", cfg.LLM.TimeoutRaw, err)
		}
	}
	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing server.shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "127.0.0.1:8000"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("BASE_URL")
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = os.Getenv("MODEL")
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 2 * time.Minute
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(Dir(), "mcpchat.db")
	}
	if cfg.Chat.MaxRounds == 0 {
		cfg.Chat.MaxRounds = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "mcpchat"
	}
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Chat.MaxRounds < 1 {
		return fmt.Errorf("chat.max_rounds must be at least 1")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("servers[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// APIKey returns the completion API key (config or env)
func (c *Config) APIKey() string {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	if key := os.Getenv("API_KEY"); key != "" {
		return key
	}
	return os.Getenv("OPENAI_API_KEY")
}

// Redacted returns a copy safe for display, with secrets masked
func (c *Config) Redacted() *Config {
	out := *c
	out.LLM.TimeoutRaw = c.LLM.Timeout.String()
	out.Server.ShutdownTimeoutRaw = c.Server.ShutdownTimeout.String()
	if key := c.APIKey(); key != "" {
		out.LLM.APIKey = maskKey(key)
	}
	out.Servers = make([]toolserver.Config, len(c.Servers))
	for i, s := range c.Servers {
		if len(s.Env) > 0 {
			env := make(toolserver.Env, len(s.Env))
			for k, v := range s.Env {
				env[k] = maskKey(v)
			}
			s.Env = env
		}
		if len(s.Headers) > 0 {
			headers := make(map[string]string, len(s.Headers))
			for k, v := range s.Headers {
				headers[k] = maskKey(v)
			}
			s.Headers = headers
		}
		out.Servers[i] = s
	}
	return &out
}

// ListKeys returns configured keys (masked for display)
func (c *Config) ListKeys() map[string]string {
	keys := make(map[string]string)
	if key := c.APIKey(); key != "" {
		keys["llm"] = maskKey(key)
	}
	return keys
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
