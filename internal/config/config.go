// Package config loads the server and simulator configuration from an HCL
// file. A missing file yields the defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the complete configuration file. Every block is optional.
type Config struct {
	Server   *ServerSettings   `hcl:"server,block"`
	Database *DatabaseSettings `hcl:"database,block"`
	Rules    *RulesSettings    `hcl:"rules,block"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Address     string   `hcl:"address,optional"`
	LogLevel    string   `hcl:"log_level,optional"`
	CORSOrigins []string `hcl:"cors_origins,optional"`
	// SessionTTL is how long an idle session is kept, e.g. "30m".
	SessionTTL string `hcl:"session_ttl,optional"`
}

// DatabaseSettings selects the SQL driver. An empty DSN disables persistence.
type DatabaseSettings struct {
	Driver string `hcl:"driver,optional"`
	DSN    string `hcl:"dsn,optional"`
}

// RulesSettings are the default rules for new sessions
type RulesSettings struct {
	Natural bool `hcl:"natural,optional"`
	SAB     bool `hcl:"sab,optional"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: &ServerSettings{
			Address:     ":8080",
			LogLevel:    "info",
			CORSOrigins: []string{"http://localhost:5173"},
			SessionTTL:  "30m",
		},
		Database: &DatabaseSettings{
			Driver: "sqlite3",
			DSN:    "./data/blackjack.db",
		},
		Rules: &RulesSettings{},
	}
}

// Load reads filename, falling back to defaults when it does not exist.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, nil, &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills missing blocks and fields. A database block without
// a dsn disables persistence, but a missing block keeps the default file.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server == nil {
		c.Server = def.Server
	}
	if c.Database == nil {
		c.Database = def.Database
	}
	if c.Rules == nil {
		c.Rules = def.Rules
	}
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = def.Server.LogLevel
	}
	if c.Server.CORSOrigins == nil {
		c.Server.CORSOrigins = def.Server.CORSOrigins
	}
	if c.Server.SessionTTL == "" {
		c.Server.SessionTTL = def.Server.SessionTTL
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
}

// Validate checks values the decoder cannot
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("server.log_level: %w", err)
	}
	ttl, err := c.TTL()
	if err != nil {
		return fmt.Errorf("server.session_ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("server.session_ttl: must be positive, got %s", c.Server.SessionTTL)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	return nil
}

// TTL parses the session TTL
func (c *Config) TTL() (time.Duration, error) {
	return time.ParseDuration(c.Server.SessionTTL)
}

// Level parses the log level, defaulting to info
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.Server.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
