package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the main configuration struct, loaded from YAML and overlaid
// with PAIRCHAT_* environment variables and command-line flags.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Typing   TypingConfig   `yaml:"typing"`
	Media    MediaConfig    `yaml:"media"`
}

// ServerConfig holds http, storage and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds auth, CORS and rate limiting settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TypingConfig drives the server-side typing-expiry sweep. Window is how
// long a typing signal stays live without a refresh; Cron schedules the
// coarse safety sweep on top of the in-process ticker.
type TypingConfig struct {
	Window string `yaml:"window"`
	Cron   string `yaml:"cron"`
}

// WindowDuration parses Window, defaulting to 2s beyond the client-side
// debounce when unset.
func (t TypingConfig) WindowDuration() time.Duration {
	if t.Window == "" {
		return 4 * time.Second
	}
	d, err := time.ParseDuration(t.Window)
	if err != nil || d <= 0 {
		return 4 * time.Second
	}
	return d
}

// MediaConfig holds attachment storage settings. MaxUpload accepts
// human-friendly sizes ("10MB", "512KiB").
type MediaConfig struct {
	Dir       string `yaml:"dir"`
	BaseURL   string `yaml:"base_url"`
	MaxUpload string `yaml:"max_upload"`
}

// MaxUploadBytes parses MaxUpload, defaulting to 10MB.
func (m MediaConfig) MaxUploadBytes() int64 {
	if m.MaxUpload == "" {
		return 10 << 20
	}
	if v, err := humanize.ParseBytes(m.MaxUpload); err == nil && v > 0 {
		return int64(v)
	}
	return 10 << 20
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}
