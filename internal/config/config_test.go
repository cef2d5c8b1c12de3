package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:             "8000",
		Env:              "development",
		LogLevel:         "info",
		CacheBackend:     "memory",
		DocumentTTL:      30 * time.Minute,
		IdentityTTL:      24 * time.Hour,
		DBMaxConns:       10,
		DBMinConns:       2,
		CommunityID:      "2.16.840.1.113883.2.1.3.34.9001",
		RepositoryID:     "2.16.840.1.113883.2.1.3.34.9001.1",
		OrganisationName: "Xhuma",
		ODSCode:          "Y12345",
		GPConnectURL:     "https://gpconnect.example/fhir",
		UpstreamTimeout:  30 * time.Second,
		RequestTimeout:   time.Minute,
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.CacheBackend != "memory" {
		t.Errorf("expected memory cache by default, got %s", cfg.CacheBackend)
	}
	if cfg.DocumentTTL != 30*time.Minute {
		t.Errorf("expected 30m document TTL, got %s", cfg.DocumentTTL)
	}
	if cfg.DBMaxConns != 10 {
		t.Errorf("expected default max conns 10, got %d", cfg.DBMaxConns)
	}
	if cfg.DatabaseURL != "" || cfg.RelayEnabled {
		t.Errorf("expected audit store and relay disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DOCUMENT_TTL", "5m")
	t.Setenv("DB_MAX_CONNS", "4")
	t.Setenv("RELAY_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.CacheIsRedis() || cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("expected redis cache, got %s %s", cfg.CacheBackend, cfg.RedisURL)
	}
	if cfg.DocumentTTL != 5*time.Minute {
		t.Errorf("expected 5m document TTL, got %s", cfg.DocumentTTL)
	}
	if cfg.DBMaxConns != 4 {
		t.Errorf("expected max conns 4, got %d", cfg.DBMaxConns)
	}
	if !cfg.RelayEnabled {
		t.Error("expected relay enabled")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown cache backend", func(c *Config) { c.CacheBackend = "memcached" }, "CACHE_BACKEND must be one of"},
		{"redis without url", func(c *Config) { c.CacheBackend = "redis" }, "REDIS_URL is required"},
		{"bad gp connect url", func(c *Config) { c.GPConnectURL = "not a url" }, "GPCONNECT_URL is invalid"},
		{"pds without key", func(c *Config) { c.PDSBaseURL = "https://pds.example/" }, "PDS_API_KEY is required"},
		{"tls without cert", func(c *Config) { c.TLSEnabled = true; c.TLSKeyFile = "key.pem" }, "TLS_CERT_FILE is required"},
		{"zero document ttl", func(c *Config) { c.DocumentTTL = 0 }, "DOCUMENT_TTL is invalid"},
		{"min above max conns", func(c *Config) { c.DBMinConns = 20 }, "DB_MIN_CONNS"},
		{"request timeout below upstream", func(c *Config) { c.RequestTimeout = 10 * time.Second }, "REQUEST_TIMEOUT (10s) must exceed UPSTREAM_TIMEOUT"},
		{"request timeout equal to upstream", func(c *Config) { c.RequestTimeout = c.UpstreamTimeout }, "must exceed UPSTREAM_TIMEOUT"},
		{"relay without secret", func(c *Config) { c.RelayEnabled = true }, "RELAY_SECRET is required"},
		{"relay with secret", func(c *Config) { c.RelayEnabled = true; c.RelaySecret = "agent-secret" }, ""},
		{"production memory cache", func(c *Config) {
			c.Env = "production"
			c.AuditSecret = "s"
		}, "CACHE_BACKEND must be \"redis\""},
		{"production without audit secret", func(c *Config) {
			c.Env = "production"
			c.CacheBackend = "redis"
			c.RedisURL = "redis://cache:6379"
		}, "AUDIT_SECRET is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() || !c.IsProduction() {
		t.Error("expected production mode")
	}
}
