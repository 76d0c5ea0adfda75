// Package config assembles the hostbridge server configuration from defaults
// and an optional YAML file. Durations are written as Go duration strings.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/me/hostbridge/internal/classifier"
	"github.com/me/hostbridge/internal/conn"
	"github.com/me/hostbridge/internal/host"
	"github.com/me/hostbridge/internal/operation"
	"github.com/me/hostbridge/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the hostbridge server.
type ServerConfig struct {
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json, auto
	DBPath    string `yaml:"db_path"`    // SQLite journal path; empty disables the journal
	AdminAddr string `yaml:"admin_addr"` // Admin API listen address; empty disables it

	Scheduler  scheduler.Config  `yaml:"scheduler"`
	Conn       conn.Config       `yaml:"connections"`
	Operations operation.Config  `yaml:"operations"`
	Classifier classifier.Config `yaml:"classifier"`
	Host       host.Config       `yaml:"host"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		LogLevel:   "info",
		LogFormat:  "auto",
		DBPath:     DefaultDBPath(),
		AdminAddr:  "127.0.0.1:9877",
		Scheduler:  scheduler.DefaultConfig(),
		Conn:       conn.DefaultConfig(),
		Operations: operation.DefaultConfig(),
		Classifier: classifier.DefaultConfig(),
		Host:       host.DefaultConfig(),
	}
}

// DefaultDBPath returns ~/.hostbridge/journal.db, or a relative path when
// the home directory cannot be resolved.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hostbridge-journal.db"
	}
	return filepath.Join(home, ".hostbridge", "journal.db")
}

// LoadFile reads a YAML file over the defaults. Keys absent from the file
// keep their default values.
func LoadFile(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks values that would otherwise fail deep inside a component.
func (c ServerConfig) Validate() error {
	switch c.LogFormat {
	case "text", "json", "auto":
	default:
		return fmt.Errorf("%w: log_format %q (want text, json or auto)", ErrInvalid, c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	if !loopback(c.Scheduler.Host) {
		return fmt.Errorf("%w: scheduler.host %q is not a loopback address", ErrInvalid, c.Scheduler.Host)
	}
	if c.AdminAddr != "" {
		host, _, err := net.SplitHostPort(c.AdminAddr)
		if err != nil {
			return fmt.Errorf("%w: admin_addr %q: %v", ErrInvalid, c.AdminAddr, err)
		}
		if !loopback(host) {
			return fmt.Errorf("%w: admin_addr %q is not a loopback address", ErrInvalid, c.AdminAddr)
		}
	}
	if c.Scheduler.Port < 0 || c.Scheduler.Port > 65535 {
		return fmt.Errorf("%w: scheduler.port %d out of range", ErrInvalid, c.Scheduler.Port)
	}
	if c.Scheduler.MaxFailures <= 0 {
		return fmt.Errorf("%w: scheduler.max_failures must be positive", ErrInvalid)
	}
	if c.Operations.MaxRetries < 0 {
		return fmt.Errorf("%w: operations.max_retries must not be negative", ErrInvalid)
	}
	if c.Operations.MaxRuntime <= 0 {
		return fmt.Errorf("%w: operations.max_runtime must be positive", ErrInvalid)
	}
	if c.Conn.MaxFrameBytes <= 0 {
		return fmt.Errorf("%w: connections.max_frame_bytes must be positive", ErrInvalid)
	}
	if _, err := classifier.New(c.Classifier); err != nil {
		return fmt.Errorf("%w: classifier: %v", ErrInvalid, err)
	}
	return nil
}

// loopback reports whether host names only the local machine. An empty
// host binds every interface and is rejected.
func loopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
