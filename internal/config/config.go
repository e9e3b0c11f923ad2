package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Listen ListenConfig `yaml:"listen"`
	Demo   DemoConfig   `yaml:"demo"`
	Store  StoreConfig  `yaml:"store"`
	Remote RemoteConfig `yaml:"remote"`
	TLS    TLSConfig    `yaml:"tls"`
	Log    LogConfig    `yaml:"log"`
}

// ListenConfig defines where the daemon listens for requests
type ListenConfig struct {
	HTTP   string `yaml:"http"`   // HTTP server address (e.g., ":9000")
	Socket string `yaml:"socket"` // Admin Unix socket path
}

// LimitConfig is a fixed-window rate limit
type LimitConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// DemoConfig defines the demo session lifecycle
type DemoConfig struct {
	MaxDuration        time.Duration `yaml:"max_duration"`        // Countdown length and hard age ceiling
	RevalidateInterval time.Duration `yaml:"revalidate_interval"` // Background validation period
	TickInterval       time.Duration `yaml:"tick_interval"`       // Countdown tick period
	ActivationLimit    LimitConfig   `yaml:"activation_limit"`    // Starts per role
	ValidationLimit    LimitConfig   `yaml:"validation_limit"`    // Validations per session
	EventCap           int           `yaml:"event_cap"`           // Retained analytics events per session
	TabIdleTimeout     time.Duration `yaml:"tab_idle_timeout"`    // Idle tabs are unloaded after this
	MaxTabs            int           `yaml:"max_tabs"`            // Upper bound on tracked tabs
}

// StoreConfig defines the obfuscated tab store
type StoreConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"` // Maximum age of any stored value
	Secret     string        `yaml:"secret"`      // Key material; random per process when empty
}

// RemoteConfig defines the remote validation endpoint and analytics sink.
// Both are optional; without them validation runs locally and reports are
// only logged.
type RemoteConfig struct {
	ValidateURL  string        `yaml:"validate_url"`  // Session validation endpoint
	AnalyticsURL string        `yaml:"analytics_url"` // Analytics / security event sink
	Timeout      time.Duration `yaml:"timeout"`       // Per-call validation timeout
	FlushTimeout time.Duration `yaml:"flush_timeout"` // Per-call analytics timeout
	Issuer       string        `yaml:"issuer"`        // OIDC issuer for client credentials (optional)
	ClientID     string        `yaml:"client_id"`     // OAuth2 client ID
	ClientSecret string        `yaml:"client_secret"` // OAuth2 client secret
	Scopes       []string      `yaml:"scopes"`        // Requested scopes
}

// TLSConfig defines TLS settings for the HTTP server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP:   ":9000",
			Socket: "/run/demo-sessiond/admin.sock",
		},
		Demo: DemoConfig{
			MaxDuration:        30 * time.Minute,
			RevalidateInterval: 30 * time.Second,
			TickInterval:       time.Second,
			ActivationLimit:    LimitConfig{MaxAttempts: 3, Window: 5 * time.Minute},
			ValidationLimit:    LimitConfig{MaxAttempts: 10, Window: time.Minute},
			EventCap:           100,
			TabIdleTimeout:     30 * time.Minute,
			MaxTabs:            10000,
		},
		Store: StoreConfig{
			StaleAfter: 2 * time.Hour,
		},
		Remote: RemoteConfig{
			Timeout:      5 * time.Second,
			FlushTimeout: 10 * time.Second,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// Remote overrides
	if v := os.Getenv("DEMO_REMOTE_VALIDATE_URL"); v != "" {
		c.Remote.ValidateURL = v
	}
	if v := os.Getenv("DEMO_REMOTE_ANALYTICS_URL"); v != "" {
		c.Remote.AnalyticsURL = v
	}
	if v := os.Getenv("DEMO_REMOTE_ISSUER"); v != "" {
		c.Remote.Issuer = v
	}
	if v := os.Getenv("DEMO_REMOTE_CLIENT_ID"); v != "" {
		c.Remote.ClientID = v
	}
	if v := os.Getenv("DEMO_REMOTE_CLIENT_SECRET"); v != "" {
		c.Remote.ClientSecret = v
	}

	// Store overrides
	if v := os.Getenv("DEMO_STORE_SECRET"); v != "" {
		c.Store.Secret = v
	}

	// Log overrides
	if v := os.Getenv("DEMO_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DEMO_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	// Listen overrides
	if v := os.Getenv("DEMO_LISTEN_HTTP"); v != "" {
		c.Listen.HTTP = v
	}
	if v := os.Getenv("DEMO_LISTEN_SOCKET"); v != "" {
		c.Listen.Socket = v
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Validate demo config
	if c.Demo.MaxDuration <= 0 {
		return fmt.Errorf("demo.max_duration must be positive")
	}
	if c.Demo.MaxDuration > 2*time.Hour {
		return fmt.Errorf("demo.max_duration should not exceed 2h")
	}
	if c.Demo.RevalidateInterval <= 0 || c.Demo.RevalidateInterval >= c.Demo.MaxDuration {
		return fmt.Errorf("demo.revalidate_interval must be positive and shorter than demo.max_duration")
	}
	if c.Demo.TickInterval <= 0 || c.Demo.TickInterval > c.Demo.RevalidateInterval {
		return fmt.Errorf("demo.tick_interval must be positive and not longer than demo.revalidate_interval")
	}
	if err := c.Demo.ActivationLimit.validate("demo.activation_limit"); err != nil {
		return err
	}
	if err := c.Demo.ValidationLimit.validate("demo.validation_limit"); err != nil {
		return err
	}
	if c.Demo.EventCap <= 0 || c.Demo.EventCap > 10000 {
		return fmt.Errorf("demo.event_cap must be between 1 and 10000")
	}
	if c.Demo.TabIdleTimeout <= 0 {
		return fmt.Errorf("demo.tab_idle_timeout must be positive")
	}
	if c.Demo.MaxTabs <= 0 {
		return fmt.Errorf("demo.max_tabs must be positive")
	}

	// Validate store config
	if c.Store.StaleAfter < c.Demo.MaxDuration {
		return fmt.Errorf("store.stale_after must not be shorter than demo.max_duration")
	}

	// Validate remote config
	if c.Remote.ValidateURL != "" && !isHTTPURL(c.Remote.ValidateURL) {
		return fmt.Errorf("remote.validate_url must be a valid HTTP(S) URL")
	}
	if c.Remote.AnalyticsURL != "" && !isHTTPURL(c.Remote.AnalyticsURL) {
		return fmt.Errorf("remote.analytics_url must be a valid HTTP(S) URL")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.Remote.FlushTimeout <= 0 {
		return fmt.Errorf("remote.flush_timeout must be positive")
	}
	if c.Remote.Issuer != "" {
		if !isHTTPURL(c.Remote.Issuer) {
			return fmt.Errorf("remote.issuer must be a valid HTTP(S) URL")
		}
		if c.Remote.ClientID == "" || c.Remote.ClientSecret == "" {
			return fmt.Errorf("remote.client_id and remote.client_secret are required when remote.issuer is set")
		}
	}

	// Validate TLS config
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}

		if _, err := os.Stat(c.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file not found: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file not found: %w", err)
		}
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	// Validate listen config
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}
	if c.Listen.Socket == "" {
		return fmt.Errorf("listen.socket is required")
	}

	return nil
}

func (l LimitConfig) validate(name string) error {
	if l.MaxAttempts <= 0 {
		return fmt.Errorf("%s.max_attempts must be positive", name)
	}
	if l.Window <= 0 {
		return fmt.Errorf("%s.window must be positive", name)
	}
	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Redact returns a deep-enough copy of the config with secrets redacted for safe logging
func (c *Config) Redact() *Config {
	redacted := *c
	if c.Remote.Scopes != nil {
		redacted.Remote.Scopes = make([]string, len(c.Remote.Scopes))
		copy(redacted.Remote.Scopes, c.Remote.Scopes)
	}
	if redacted.Remote.ClientSecret != "" {
		redacted.Remote.ClientSecret = "[REDACTED]"
	}
	if redacted.Store.Secret != "" {
		redacted.Store.Secret = "[REDACTED]"
	}
	return &redacted
}
