// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// BackendConfig describes the sidecar executable and how to recognize
// that it came up.
type BackendConfig struct {
	Command          string   `json:"command" yaml:"command"`
	Args             []string `json:"args" yaml:"args"`
	WorkDir          string   `json:"work_dir" yaml:"work_dir"`
	Port             int      `json:"port" yaml:"port"`
	ReadyMarkers     []string `json:"ready_markers" yaml:"ready_markers"`
	TerminateGraceMS int      `json:"terminate_grace_ms" yaml:"terminate_grace_ms"`
}

// ProbeConfig holds health-probe tuning.
type ProbeConfig struct {
	Endpoints        []string `json:"endpoints" yaml:"endpoints"`
	InitialDelayMS   int      `json:"initial_delay_ms" yaml:"initial_delay_ms"`
	MaxDelayMS       int      `json:"max_delay_ms" yaml:"max_delay_ms"`
	MaxAttempts      int      `json:"max_attempts" yaml:"max_attempts"`
	RequestTimeoutMS int      `json:"request_timeout_ms" yaml:"request_timeout_ms"`
}

// ServerConfig holds the status API server configuration.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Config holds the application configuration.
type Config struct {
	Backend     BackendConfig `json:"backend" yaml:"backend"`
	Probe       ProbeConfig   `json:"probe" yaml:"probe"`
	Server      ServerConfig  `json:"server" yaml:"server"`
	JournalPath string        `json:"journal_path" yaml:"journal_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	qkdhostDir := filepath.Join(home, ".qkdhost")

	return &Config{
		Backend: BackendConfig{
			Command:          "qkd-backend",
			Port:             8000,
			ReadyMarkers:     []string{"Uvicorn running on", "Listening on", "API Docs"},
			TerminateGraceMS: 5000,
		},
		Probe: ProbeConfig{
			InitialDelayMS:   200,
			MaxDelayMS:       2000,
			MaxAttempts:      30,
			RequestTimeoutMS: 1000,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		JournalPath: filepath.Join(qkdhostDir, "events.json"),
	}
}

// Load loads configuration from a file (supports JSON and YAML).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	baseDir := ""

	if path == "" {
		home, _ := os.UserHomeDir()
		// Try YAML first, then JSON
		yamlPath := filepath.Join(home, ".qkdhost", "config.yaml")
		jsonPath := filepath.Join(home, ".qkdhost", "config.json")

		if _, err := os.Stat(yamlPath); err == nil {
			path = yamlPath
			baseDir = filepath.Dir(path)
		} else if _, err := os.Stat(jsonPath); err == nil {
			path = jsonPath
			baseDir = filepath.Dir(path)
		} else {
			// No config file found, return defaults
			return cfg, nil
		}
	} else {
		baseDir = filepath.Dir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Detect format by extension
	isYAML := strings.HasSuffix(strings.ToLower(path), ".yaml") || strings.HasSuffix(strings.ToLower(path), ".yml")

	if isYAML {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	// Expand ~ and resolve relative paths relative to the config file
	// directory.
	cfg.JournalPath = resolvePath(cfg.JournalPath, baseDir)
	cfg.Backend.Command = expandHome(cfg.Backend.Command)
	cfg.Backend.WorkDir = resolvePath(cfg.Backend.WorkDir, baseDir)

	return cfg, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".qkdhost", "config.json")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Address returns the status server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ProbeEndpoints returns the configured health endpoints, or the default
// set derived from the backend port: the health endpoint by hostname,
// the same by loopback address, and the API docs page as fallback.
func (c *Config) ProbeEndpoints() []string {
	if len(c.Probe.Endpoints) > 0 {
		return c.Probe.Endpoints
	}
	port := c.Backend.Port
	if port <= 0 {
		port = 8000
	}
	return []string{
		fmt.Sprintf("http://localhost:%d/health", port),
		fmt.Sprintf("http://127.0.0.1:%d/health", port),
		fmt.Sprintf("http://localhost:%d/docs", port),
	}
}

// InitialDelay returns the probe backoff start delay.
func (c *Config) InitialDelay() time.Duration {
	return time.Duration(c.Probe.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the probe backoff ceiling.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Probe.MaxDelayMS) * time.Millisecond
}

// RequestTimeout returns the per-probe request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Probe.RequestTimeoutMS) * time.Millisecond
}

// TerminateGrace returns the SIGTERM grace period before force kill.
func (c *Config) TerminateGrace() time.Duration {
	return time.Duration(c.Backend.TerminateGraceMS) * time.Millisecond
}

// expandHome expands ~ to home directory in paths.
func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	// Support "~/..." (and Windows separators just in case)
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~\\") {
		home, _ := os.UserHomeDir()
		rest := path[2:]
		return filepath.Join(home, rest)
	}
	// We intentionally don't expand "~user/..." forms.
	return path
}

// resolvePath expands ~ and resolves relative paths against baseDir.
// If baseDir is empty, relative paths are returned unchanged.
func resolvePath(value, baseDir string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	p := expandHome(value)
	if filepath.IsAbs(p) {
		return p
	}
	if baseDir == "" {
		return p
	}
	return filepath.Clean(filepath.Join(baseDir, p))
}
