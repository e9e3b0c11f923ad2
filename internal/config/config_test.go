package config

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listen.HTTP != ":9000" {
		t.Errorf("expected HTTP listen :9000, got %s", cfg.Listen.HTTP)
	}

	if cfg.Demo.MaxDuration != 30*time.Minute {
		t.Errorf("expected max duration 30m, got %s", cfg.Demo.MaxDuration)
	}

	if cfg.Demo.ActivationLimit.MaxAttempts != 3 || cfg.Demo.ActivationLimit.Window != 5*time.Minute {
		t.Errorf("expected activation limit 3/5m, got %+v", cfg.Demo.ActivationLimit)
	}

	if cfg.Demo.EventCap != 100 {
		t.Errorf("expected event cap 100, got %d", cfg.Demo.EventCap)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		wantErr     bool
		errContains string
	}{
		{
			name: "valid config",
			configYAML: `
listen:
  http: ":9000"
  socket: "/tmp/test.sock"
demo:
  max_duration: 20m
  revalidate_interval: 15s
  activation_limit:
    max_attempts: 5
    window: 10m
remote:
  validate_url: "https://api.example.com/demo/validate"
  analytics_url: "https://api.example.com/demo/analytics"
  timeout: 3s
log:
  level: "info"
  format: "json"
`,
			wantErr: false,
		},
		{
			name: "minimal config uses defaults",
			configYAML: `
log:
  level: "debug"
`,
			wantErr: false,
		},
		{
			name: "max duration above ceiling",
			configYAML: `
demo:
  max_duration: 3h
store:
  stale_after: 4h
`,
			wantErr:     true,
			errContains: "should not exceed 2h",
		},
		{
			name: "invalid validate url",
			configYAML: `
remote:
  validate_url: "ftp://example.com/validate"
`,
			wantErr:     true,
			errContains: "remote.validate_url",
		},
		{
			name: "issuer without credentials",
			configYAML: `
remote:
  issuer: "https://keycloak.example.com/realms/demo"
`,
			wantErr:     true,
			errContains: "client_id and remote.client_secret",
		},
		{
			name: "invalid log level",
			configYAML: `
log:
  level: "trace"
`,
			wantErr:     true,
			errContains: "log.level",
		},
		{
			name:        "invalid yaml",
			configYAML:  "demo: [unclosed",
			wantErr:     true,
			errContains: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpfile, err := os.CreateTemp("", "config-*.yaml")
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = os.Remove(tmpfile.Name()) }()

			if _, err := tmpfile.Write([]byte(tt.configYAML)); err != nil {
				t.Fatal(err)
			}
			if err := tmpfile.Close(); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(tmpfile.Name())

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing '%s', got nil", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %v, want error containing %v", err, tt.errContains)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if cfg == nil {
					t.Error("expected config, got nil")
				}
			}
		})
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	data := `
demo:
  max_duration: 45m
  revalidate_interval: 1m
  tab_idle_timeout: 1h
remote:
  flush_timeout: 2s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Demo.MaxDuration != 45*time.Minute {
		t.Errorf("expected max_duration 45m, got %s", cfg.Demo.MaxDuration)
	}
	if cfg.Demo.RevalidateInterval != time.Minute {
		t.Errorf("expected revalidate_interval 1m, got %s", cfg.Demo.RevalidateInterval)
	}
	if cfg.Demo.TabIdleTimeout != time.Hour {
		t.Errorf("expected tab_idle_timeout 1h, got %s", cfg.Demo.TabIdleTimeout)
	}
	if cfg.Remote.FlushTimeout != 2*time.Second {
		t.Errorf("expected flush_timeout 2s, got %s", cfg.Remote.FlushTimeout)
	}
	// Untouched fields keep their defaults
	if cfg.Demo.TickInterval != time.Second {
		t.Errorf("expected default tick_interval 1s, got %s", cfg.Demo.TickInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	// t.Setenv automatically restores the original values after the test
	t.Setenv("DEMO_STORE_SECRET", "env-store-secret")
	t.Setenv("DEMO_LOG_LEVEL", "debug")
	t.Setenv("DEMO_REMOTE_VALIDATE_URL", "https://env.example.com/validate")
	t.Setenv("DEMO_LISTEN_HTTP", ":9100")

	configYAML := `
log:
  level: "info"
`

	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()

	if _, err := tmpfile.Write([]byte(configYAML)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Store.Secret != "env-store-secret" {
		t.Errorf("expected store secret from env, got '%s'", cfg.Store.Secret)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", cfg.Log.Level)
	}

	if cfg.Remote.ValidateURL != "https://env.example.com/validate" {
		t.Errorf("expected validate_url from env, got '%s'", cfg.Remote.ValidateURL)
	}

	if cfg.Listen.HTTP != ":9100" {
		t.Errorf("expected listen.http ':9100', got '%s'", cfg.Listen.HTTP)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero max duration",
			modify:  func(c *Config) { c.Demo.MaxDuration = 0 },
			wantErr: true,
			errMsg:  "demo.max_duration must be positive",
		},
		{
			name:    "revalidate interval longer than max duration",
			modify:  func(c *Config) { c.Demo.RevalidateInterval = time.Hour },
			wantErr: true,
			errMsg:  "demo.revalidate_interval",
		},
		{
			name:    "tick interval longer than revalidate interval",
			modify:  func(c *Config) { c.Demo.TickInterval = time.Minute },
			wantErr: true,
			errMsg:  "demo.tick_interval",
		},
		{
			name:    "activation limit without attempts",
			modify:  func(c *Config) { c.Demo.ActivationLimit.MaxAttempts = 0 },
			wantErr: true,
			errMsg:  "demo.activation_limit.max_attempts",
		},
		{
			name:    "validation limit without window",
			modify:  func(c *Config) { c.Demo.ValidationLimit.Window = 0 },
			wantErr: true,
			errMsg:  "demo.validation_limit.window",
		},
		{
			name:    "event cap out of range",
			modify:  func(c *Config) { c.Demo.EventCap = 0 },
			wantErr: true,
			errMsg:  "demo.event_cap",
		},
		{
			name:    "stale after shorter than max duration",
			modify:  func(c *Config) { c.Store.StaleAfter = time.Minute },
			wantErr: true,
			errMsg:  "store.stale_after",
		},
		{
			name: "TLS enabled without cert",
			modify: func(c *Config) {
				c.TLS.Enabled = true
			},
			wantErr: true,
			errMsg:  "tls.cert_file and tls.key_file are required",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
			errMsg:  "log.format",
		},
		{
			name:    "missing socket",
			modify:  func(c *Config) { c.Listen.Socket = "" },
			wantErr: true,
			errMsg:  "listen.socket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing '%s', got nil", tt.errMsg)
				} else if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %v, want error containing %v", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestRedact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.ClientSecret = "super-secret"
	cfg.Store.Secret = "store-key"
	cfg.Remote.Scopes = []string{"demo.validate"}

	redacted := cfg.Redact()

	if redacted.Remote.ClientSecret != "[REDACTED]" {
		t.Errorf("expected [REDACTED], got %s", redacted.Remote.ClientSecret)
	}
	if redacted.Store.Secret != "[REDACTED]" {
		t.Errorf("expected [REDACTED], got %s", redacted.Store.Secret)
	}

	// Original should be unchanged
	if cfg.Remote.ClientSecret != "super-secret" || cfg.Store.Secret != "store-key" {
		t.Errorf("original was modified")
	}

	redacted.Remote.Scopes[0] = "changed"
	if cfg.Remote.Scopes[0] != "demo.validate" {
		t.Errorf("scopes slice shared with original")
	}
}

func TestSetupLogging(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(old)
	})

	SetupLogging(&LogConfig{Level: "debug", Format: "json"})
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug logs to be enabled")
	}

	SetupLogging(&LogConfig{Level: "error", Format: "text"})
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info logs to be disabled at error level")
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error logs to be enabled")
	}
}
