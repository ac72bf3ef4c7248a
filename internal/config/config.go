// Package config handles configuration loading, validation and hot reload
// for mariner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns $XDG_CONFIG_HOME/mariner/config.yaml, falling
// back to ~/.config/mariner/config.yaml.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "mariner", "config.yaml")
}

// Config is the top-level configuration.
type Config struct {
	Servers         []ServerConfig `yaml:"servers"`
	Timeouts        TimeoutConfig  `yaml:"timeouts"`
	Security        SecurityConfig `yaml:"security"`
	Output          OutputConfig   `yaml:"output"`
	Logging         LoggingConfig  `yaml:"logging"`
	PromptDetection PromptConfig   `yaml:"prompt_detection"`
}

// ServerConfig defines one remote shell endpoint.
type ServerConfig struct {
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	KeyPath     string `yaml:"key_path"`
	PasswordEnv string `yaml:"password_env"` // env var holding the login password
	RunAsRoot   bool   `yaml:"run_as_root"`  // shell is already privileged
}

// TimeoutConfig groups the execution and connection deadlines.
type TimeoutConfig struct {
	// Command bounds ordinary commands: status probes, file listings.
	Command time.Duration `yaml:"command"`

	// Install bounds package-installation-style long operations.
	Install time.Duration `yaml:"install"`

	// Connect bounds the admin channel's authentication handshake.
	Connect time.Duration `yaml:"connect"`

	// Settle is the pause after session priming.
	Settle time.Duration `yaml:"settle"`
}

// SecurityConfig defines credential handling settings.
type SecurityConfig struct {
	PasswordCacheTTL time.Duration `yaml:"password_cache_ttl"`
	UseKeyring       bool          `yaml:"use_keyring"`
	MaxSessions      int           `yaml:"max_sessions"`
}

// OutputConfig bounds per-command capture.
type OutputConfig struct {
	BufferLimit int `yaml:"buffer_limit"` // bytes retained per command
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"` // debug, info, warn, error
	Sanitize bool   `yaml:"sanitize"`
}

// PromptConfig carries custom prompt-detection patterns.
type PromptConfig struct {
	CustomPatterns []PatternConfig `yaml:"custom_patterns"`
}

// PatternConfig is one custom pattern.
type PatternConfig struct {
	Name     string `yaml:"name"`
	Regex    string `yaml:"regex"`
	Kind     string `yaml:"kind"` // password, confirmation, host_key
	Response string `yaml:"response"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeouts: TimeoutConfig{
			Command: 30 * time.Second,
			Install: 10 * time.Minute,
			Connect: 20 * time.Second,
			Settle:  300 * time.Millisecond,
		},
		Security: SecurityConfig{
			PasswordCacheTTL: 5 * time.Minute,
			UseKeyring:       true,
			MaxSessions:      10,
		},
		Output: OutputConfig{
			BufferLimit: 256 * 1024,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// Load reads configuration from a YAML file, layered over the defaults. A
// missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants and backfills zero values with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.Timeouts.Command <= 0 {
		c.Timeouts.Command = def.Timeouts.Command
	}
	if c.Timeouts.Install <= 0 {
		c.Timeouts.Install = def.Timeouts.Install
	}
	if c.Timeouts.Connect <= 0 {
		c.Timeouts.Connect = def.Timeouts.Connect
	}
	if c.Timeouts.Settle < 0 {
		c.Timeouts.Settle = def.Timeouts.Settle
	}
	if c.Security.PasswordCacheTTL <= 0 {
		c.Security.PasswordCacheTTL = def.Security.PasswordCacheTTL
	}
	if c.Security.MaxSessions <= 0 {
		c.Security.MaxSessions = def.Security.MaxSessions
	}
	if c.Output.BufferLimit <= 0 {
		c.Output.BufferLimit = def.Output.BufferLimit
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server %d: name is required", i)
		}
		if s.Host == "" {
			return fmt.Errorf("server %q: host is required", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("server %q: duplicate name", s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	for _, p := range c.PromptDetection.CustomPatterns {
		if p.Name == "" || p.Regex == "" {
			return fmt.Errorf("prompt pattern: name and regex are required")
		}
	}
	return nil
}

// Server returns the named server entry.
func (c *Config) Server(name string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// AddServer appends a server entry, rejecting duplicate names.
func (c *Config) AddServer(server ServerConfig) error {
	if _, exists := c.Server(server.Name); exists {
		return fmt.Errorf("server %q already exists", server.Name)
	}
	c.Servers = append(c.Servers, server)
	return nil
}

// Save writes the configuration as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
