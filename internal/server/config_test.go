package server

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Port != ":8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.MaxConnections != 100 || cfg.NameMaxLength != 15 || cfg.TextMaxLength != 100 {
		t.Errorf("limits = %d/%d/%d, want 100/15/100", cfg.MaxConnections, cfg.NameMaxLength, cfg.TextMaxLength)
	}
	if cfg.Tolerance != 500*time.Millisecond {
		t.Errorf("Tolerance = %v, want 500ms", cfg.Tolerance)
	}
	if cfg.RateLimit.Burst != 10 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("MAX_CONNECTIONS", "7")
	t.Setenv("NAME_MAX_LENGTH", "not-a-number")
	t.Setenv("RECONCILE_TOLERANCE", "250")
	t.Setenv("RATE_LIMIT_BURST", "4")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("GOCHAT_LOG_LEVEL", "debug")

	cfg := sanitizeConfig(*NewConfigFromEnv())

	if cfg.Port != ":9000" {
		t.Errorf("Port = %q, want :9000", cfg.Port)
	}
	if !slices.Equal(cfg.AllowedOrigins, []string{"http://a.example", "http://b.example"}) {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 2048 || cfg.MaxConnections != 7 {
		t.Errorf("MaxMessageSize/MaxConnections = %d/%d", cfg.MaxMessageSize, cfg.MaxConnections)
	}
	if cfg.NameMaxLength != 15 {
		t.Errorf("invalid NAME_MAX_LENGTH should keep the default, got %d", cfg.NameMaxLength)
	}
	if cfg.Tolerance != 250*time.Millisecond {
		t.Errorf("Tolerance = %v, want 250ms", cfg.Tolerance)
	}
	if cfg.RateLimit.Burst != 4 || cfg.RateLimit.RefillInterval != 3*time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncchat.yaml")
	data := []byte(`port: "7000"
max_connections: 2
reconcile_tolerance: 1s
rate_limit:
  burst: 20
  refill_interval: 2s
allowed_origins:
  - "*"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAX_CONNECTIONS", "3")

	loaded, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	cfg := sanitizeConfig(*loaded)

	if cfg.Port != ":7000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.MaxConnections != 3 {
		t.Errorf("environment should override the file, got MaxConnections %d", cfg.MaxConnections)
	}
	if cfg.Tolerance != time.Second {
		t.Errorf("Tolerance = %v", cfg.Tolerance)
	}
	if cfg.RateLimit.Burst != 20 || cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.TextMaxLength != 100 {
		t.Errorf("keys missing from the file should keep defaults, got TextMaxLength %d", cfg.TextMaxLength)
	}
	if !slices.Equal(cfg.AllowedOrigins, []string{"*"}) {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_connections: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{Port: "8081", Tolerance: -time.Second})

	if cfg.Port != ":8081" {
		t.Errorf("Port = %q, want :8081", cfg.Port)
	}
	if cfg.MaxMessageSize <= 0 || cfg.MaxConnections <= 0 || cfg.SendBuffer <= 0 {
		t.Errorf("zero limits should fall back to defaults: %+v", cfg)
	}
	if cfg.Tolerance != 500*time.Millisecond {
		t.Errorf("negative tolerance should fall back to default, got %v", cfg.Tolerance)
	}
}
