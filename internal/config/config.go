// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/form-relay/config.toml",
	"configs/config.toml",
}

// Defaults matching the relay's original fixed configuration.
const (
	DefaultPort        = 3001
	DefaultUpstreamURL = "https://www.nobroker.in/autologin"
	DefaultReferer     = "https://www.nobroker.in"
	DefaultContentType = "application/x-www-form-urlencoded"
)

// Body encodings accepted in upstream.body_encoding.
const (
	EncodingForm = "form"
	EncodingRaw  = "raw"
)

// RelayPath is the single inbound route served by the gateway.
const RelayPath = "/proxy"

// reservedPaths are routes the metrics endpoint must not shadow.
var reservedPaths = []string{RelayPath, "/healthz", "/relay/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamURL string           `kong:"name='upstream-url',help='Upstream URL requests are relayed to (overrides config).',env='UPSTREAM_URL'"`
	Referer     string           `kong:"help='Referer header sent upstream (overrides config).',env='UPSTREAM_REFERER'"`
	LogLevel    string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version     kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration. It is built once by
// Load and treated as read-only afterwards.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	CORS     CORSConfig     `toml:"cors"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3001)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig describes the single upstream the relay forwards to.
type UpstreamConfig struct {
	URL             string `toml:"url"`
	Referer         string `toml:"referer"`
	ContentType     string `toml:"content_type"`
	BodyEncoding    string `toml:"body_encoding"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// CORSConfig controls cross-origin access to the relay.
// Enabled is a pointer so an omitted key keeps the permissive default.
type CORSConfig struct {
	Enabled      *bool    `toml:"enabled"`
	AllowOrigins []string `toml:"allow_origins"`
}

// IsEnabled reports whether CORS handling is switched on.
func (c *CORSConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/form-relay/config.toml then configs/config.toml; if neither exists
// the built-in defaults are used.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamURL != "" {
		c.Upstream.URL = cli.UpstreamURL
	}
	if cli.Referer != "" {
		c.Upstream.Referer = cli.Referer
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := validateAbsoluteURL("upstream.url", c.Upstream.URL); err != nil {
		return err
	}
	if err := validateAbsoluteURL("upstream.referer", c.Upstream.Referer); err != nil {
		return err
	}

	switch c.Upstream.BodyEncoding {
	case EncodingForm, EncodingRaw:
	default:
		return fmt.Errorf("upstream.body_encoding must be one of: form, raw; got %q", c.Upstream.BodyEncoding)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedPaths {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateAbsoluteURL(field, raw string) error {
	if raw == "" {
		return errors.New(field + " is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host; got %q", field, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with the relay's fixed defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.URL == "" {
		c.Upstream.URL = DefaultUpstreamURL
	}
	if c.Upstream.Referer == "" {
		c.Upstream.Referer = DefaultReferer
	}
	if c.Upstream.ContentType == "" {
		c.Upstream.ContentType = DefaultContentType
	}
	if c.Upstream.BodyEncoding == "" {
		c.Upstream.BodyEncoding = EncodingForm
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"*"}
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file the values were read from, or empty
// string when only defaults and flags were used.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
