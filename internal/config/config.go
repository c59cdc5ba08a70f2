// Package config loads docserver's configuration from an optional TOML
// file layered under environment variables, following the teacher's
// exact file-search-then-env-override-then-validate pattern (§6).
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the docserver MCP server.
// Precedence: environment variables > config file > defaults.
type Config struct {
	Database Database `toml:"database"`
	Embed    Embed    `toml:"embedding"`
	Server   Server   `toml:"server"`
	Pool     Pool     `toml:"pool"`
	Retry    Retry    `toml:"retry"`
	Tools    Tools    `toml:"tools"`
	Log      Log      `toml:"log"`
	Security Security `toml:"security"`
}

// Database holds the storage connection string (§6: DATABASE_URL).
type Database struct {
	URL string `toml:"url"`
}

// Embed holds embedding-provider connectivity (§6: OPENAI_API_KEY).
type Embed struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// Server holds the HTTP listen address (§6: PORT/MCP_PORT, MCP_HOST).
type Server struct {
	Port string `toml:"port"`
	Host string `toml:"host"`
}

// Security holds the transport's origin/host/binding safeguards
// (§4.1/§7/§6).
type Security struct {
	// LocalhostOnly, when set, requires Server.Host to be a loopback
	// address; startup fails otherwise (§4.1).
	LocalhostOnly bool `toml:"localhost_only"`
	// StrictOriginValidation enables the Origin allow-list.
	StrictOriginValidation bool `toml:"strict_origin_validation"`
	// AllowedOrigins is the comma-separated allow-list consulted when
	// StrictOriginValidation is enabled.
	AllowedOrigins []string `toml:"allowed_origins"`
	// AllowedHosts is consulted for DNS-rebinding protection whenever an
	// Origin header is present.
	AllowedHosts []string `toml:"allowed_hosts"`
	// CORSOrigin is the permissive CORS origin echoed back on every
	// response, independent of strict origin validation.
	CORSOrigin string `toml:"cors_origin"`
}

// Pool holds pgxpool tuning (§4.2/§6).
type Pool struct {
	MinConnections int           `toml:"min_connections"`
	MaxConnections int           `toml:"max_connections"`
	AcquireTimeout time.Duration `toml:"acquire_timeout"`
	MaxLifetime    time.Duration `toml:"max_lifetime"`
	IdleTimeout    time.Duration `toml:"idle_timeout"`
	AppName        string        `toml:"app_name"`
}

// Retry holds the storage retry executor's defaults (§4.8/§6).
type Retry struct {
	MaxAttempts  int           `toml:"max_attempts"`
	InitialDelay time.Duration `toml:"initial_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Multiplier   float64       `toml:"multiplier"`
	Jitter       bool          `toml:"jitter"`
}

// Tools holds the optional tools-configuration document path (§4.3/§6).
type Tools struct {
	ConfigPath string `toml:"config_path"`
}

// Log holds logging configuration (§6: RUST_LOG).
type Log struct {
	Level string `toml:"level"`
}

// Load creates a Config by reading from a TOML config file and
// environment variables. Precedence: environment variables > config file
// > defaults.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter (from --config flag)
//  2. DOCSERVER_CONFIG environment variable
//  3. ./docserver.toml (current directory)
//  4. ~/.config/docserver/docserver.toml (XDG-style)
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Embed: Embed{
			BaseURL: "https://api.openai.com",
			Model:   "text-embedding-3-large",
		},
		Server: Server{
			Port: "3001",
			Host: "0.0.0.0",
		},
		Pool: Pool{
			MinConnections: 5,
			MaxConnections: 100,
			AcquireTimeout: 30 * time.Second,
			MaxLifetime:    time.Hour,
			IdleTimeout:    10 * time.Minute,
			AppName:        "doc-server",
		},
		Retry: Retry{
			MaxAttempts:  5,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Log: Log{
			Level: "info",
		},
		Security: Security{
			CORSOrigin: "*",
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if p := os.Getenv("DOCSERVER_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("docserver.toml"); err == nil {
		return "docserver.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/docserver/docserver.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config
// values, matching spec.md §6's recognised variable list.
func (c *Config) applyEnv() {
	envOverride("DATABASE_URL", &c.Database.URL)
	envOverride("OPENAI_API_KEY", &c.Embed.APIKey)

	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	envOverride("MCP_PORT", &c.Server.Port) // takes precedence as the MCP-specific name
	envOverride("MCP_HOST", &c.Server.Host)

	envIntOverride("POOL_MIN_CONNECTIONS", &c.Pool.MinConnections)
	envIntOverride("POOL_MAX_CONNECTIONS", &c.Pool.MaxConnections)
	envDurationSecondsOverride("POOL_ACQUIRE_TIMEOUT", &c.Pool.AcquireTimeout)
	envDurationSecondsOverride("POOL_MAX_LIFETIME", &c.Pool.MaxLifetime)
	envDurationSecondsOverride("POOL_IDLE_TIMEOUT", &c.Pool.IdleTimeout)
	envOverride("APP_NAME", &c.Pool.AppName)

	envIntOverride("DB_RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	envDurationSecondsOverride("DB_RETRY_INITIAL_DELAY", &c.Retry.InitialDelay)
	envDurationSecondsOverride("DB_RETRY_MAX_DELAY", &c.Retry.MaxDelay)
	if v := os.Getenv("DB_RETRY_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retry.Multiplier = f
		}
	}
	if v := os.Getenv("DB_RETRY_JITTER"); v != "" {
		c.Retry.Jitter = v == "true" || v == "1"
	}

	envOverride("TOOLS_CONFIG_PATH", &c.Tools.ConfigPath)
	envOverride("RUST_LOG", &c.Log.Level)

	if v := os.Getenv("MCP_LOCALHOST_ONLY"); v != "" {
		c.Security.LocalhostOnly = v == "true" || v == "1"
	}
	if v := os.Getenv("MCP_STRICT_ORIGIN_VALIDATION"); v != "" {
		c.Security.StrictOriginValidation = v == "true" || v == "1"
	}
	if v := os.Getenv("MCP_ALLOWED_ORIGINS"); v != "" {
		c.Security.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("MCP_ALLOWED_HOSTS"); v != "" {
		c.Security.AllowedHosts = splitCSV(v)
	}
	envOverride("MCP_CORS_ORIGIN", &c.Security.CORSOrigin)
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that required fields are present (§6).
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required: set database.url in config file, or the DATABASE_URL env var")
	}
	if c.Embed.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required: set embedding.api_key in config file, or the OPENAI_API_KEY env var")
	}
	if c.Pool.MinConnections < 1 || c.Pool.MinConnections > c.Pool.MaxConnections {
		return fmt.Errorf("pool.min_connections must be between 1 and pool.max_connections")
	}
	if c.Security.LocalhostOnly && !isLoopbackHost(c.Server.Host) {
		return fmt.Errorf("security.localhost_only is enabled but server.host %q is not a loopback address", c.Server.Host)
	}
	return nil
}

// isLoopbackHost reports whether host (as configured for Server.Host, which
// may be a bare hostname/IP without a port) resolves to a loopback address.
func isLoopbackHost(host string) bool {
	if host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envIntOverride(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDurationSecondsOverride(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
