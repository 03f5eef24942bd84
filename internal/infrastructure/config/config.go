package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all service configuration. Default supplies every value; the
// environment overrides individual fields.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Origins   OriginsConfig   `yaml:"origins" toml:"origins"`
	Embed     EmbedConfig     `yaml:"embed" toml:"embed"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Sandbox   SandboxConfig   `yaml:"sandbox" toml:"sandbox"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" yaml:"port" toml:"port"`
	Host        string   `envconfig:"HOST" yaml:"host" toml:"host"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" yaml:"cors_origins" toml:"cors_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds per-client API rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// OriginsConfig lists the doublestar patterns of trusted display origins.
type OriginsConfig struct {
	Trusted []string `envconfig:"TRUSTED_ORIGINS" yaml:"trusted" toml:"trusted"`
}

// EmbedConfig configures descriptor resolution.
type EmbedConfig struct {
	Endpoint   string   `envconfig:"OEMBED_ENDPOINT" yaml:"endpoint" toml:"endpoint"`
	DisplayURL string   `envconfig:"DISPLAY_URL" yaml:"display_url" toml:"display_url"`
	Timeout    Duration `envconfig:"OEMBED_TIMEOUT" yaml:"timeout" toml:"timeout"`
	Retries    int      `envconfig:"OEMBED_RETRIES" yaml:"retries" toml:"retries"`
	RPS        float64  `envconfig:"OEMBED_RPS" yaml:"rps" toml:"rps"`
	UserAgent  string   `envconfig:"OEMBED_USER_AGENT" yaml:"user_agent" toml:"user_agent"`
}

// SessionConfig bounds API-driven session operations.
type SessionConfig struct {
	CallTimeout  Duration `envconfig:"CALL_TIMEOUT" yaml:"call_timeout" toml:"call_timeout"`
	ReadyTimeout Duration `envconfig:"READY_TIMEOUT" yaml:"ready_timeout" toml:"ready_timeout"`
}

// SandboxConfig configures in-process display frames.
type SandboxConfig struct {
	Enabled    bool     `envconfig:"SANDBOX_ENABLED" yaml:"enabled" toml:"enabled"`
	Origin     string   `envconfig:"SANDBOX_ORIGIN" yaml:"origin" toml:"origin"`
	JobTimeout Duration `envconfig:"SANDBOX_JOB_TIMEOUT" yaml:"job_timeout" toml:"job_timeout"`
	Script     string   `envconfig:"SANDBOX_SCRIPT" yaml:"script" toml:"script"`
}

// Duration is a time.Duration read from strings such as "5s" in the
// environment and in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Load reads configuration from environment variables over Default.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile reads a YAML or TOML file over Default, then applies the
// environment on top. The format follows the file extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Origins: OriginsConfig{
			Trusted: []string{
				"http*://display*{hubstairs.io,hubstairs.com,nfinite.app}",
				"http*://display*{hubstairs.io,hubstairs.com,nfinite.app}:*",
			},
		},
		Embed: EmbedConfig{
			Endpoint:   "https://api.nfinite.app/oembed.json",
			DisplayURL: "https://display.nfinite.app",
			Timeout:    Duration(10 * time.Second),
			Retries:    2,
			RPS:        10,
			UserAgent:  "framelink/1.0",
		},
		Session: SessionConfig{
			CallTimeout:  Duration(10 * time.Second),
			ReadyTimeout: Duration(15 * time.Second),
		},
		Sandbox: SandboxConfig{
			Enabled:    true,
			Origin:     "sandbox://display",
			JobTimeout: Duration(2 * time.Second),
		},
	}
}

// TrustedOrigins returns the origin patterns, including the sandbox origin
// when sandbox sessions are enabled.
func (c *Config) TrustedOrigins() []string {
	out := append([]string(nil), c.Origins.Trusted...)
	if c.Sandbox.Enabled && c.Sandbox.Origin != "" {
		out = append(out, c.Sandbox.Origin)
	}
	return out
}
