package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT" validate:"required,numeric"`
	Env      string `mapstructure:"ENV" validate:"oneof=development test production"`
	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`

	CacheBackend string        `mapstructure:"CACHE_BACKEND" validate:"oneof=memory redis"`
	RedisURL     string        `mapstructure:"REDIS_URL" validate:"required_if=CacheBackend redis"`
	DocumentTTL  time.Duration `mapstructure:"DOCUMENT_TTL" validate:"gt=0"`
	IdentityTTL  time.Duration `mapstructure:"IDENTITY_TTL" validate:"gt=0"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS" validate:"gt=0"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS" validate:"gte=0"`

	CommunityID      string `mapstructure:"COMMUNITY_ID" validate:"required"`
	RepositoryID     string `mapstructure:"REPOSITORY_ID" validate:"required"`
	OrganisationName string `mapstructure:"ORGANISATION_NAME" validate:"required"`
	ODSCode          string `mapstructure:"ODS_CODE" validate:"required"`

	GPConnectURL      string `mapstructure:"GPCONNECT_URL" validate:"required,url"`
	GPConnectAudience string `mapstructure:"GPCONNECT_AUDIENCE"`
	GPConnectFromASID string `mapstructure:"GPCONNECT_FROM_ASID"`
	GPConnectToASID   string `mapstructure:"GPCONNECT_TO_ASID"`

	PDSBaseURL        string `mapstructure:"PDS_BASE_URL" validate:"omitempty,url"`
	PDSAPIKey         string `mapstructure:"PDS_API_KEY" validate:"required_with=PDSBaseURL"`
	PDSKeyID          string `mapstructure:"PDS_KEY_ID" validate:"required_with=PDSBaseURL"`
	PDSPrivateKeyFile string `mapstructure:"PDS_PRIVATE_KEY_FILE" validate:"required_with=PDSBaseURL"`

	UpstreamTimeout time.Duration `mapstructure:"UPSTREAM_TIMEOUT" validate:"gt=0"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT" validate:"gt=0"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS" validate:"gte=0"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST" validate:"gte=0"`

	AuditSecret  string `mapstructure:"AUDIT_SECRET"`
	RelayEnabled bool   `mapstructure:"RELAY_ENABLED"`
	RelaySecret  string `mapstructure:"RELAY_SECRET" validate:"required_if=RelayEnabled true"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE" validate:"required_if=TLSEnabled true"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE" validate:"required_if=TLSEnabled true"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"CACHE_BACKEND", "REDIS_URL", "DOCUMENT_TTL", "IDENTITY_TTL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"COMMUNITY_ID", "REPOSITORY_ID", "ORGANISATION_NAME", "ODS_CODE",
	"GPCONNECT_URL", "GPCONNECT_AUDIENCE", "GPCONNECT_FROM_ASID", "GPCONNECT_TO_ASID",
	"PDS_BASE_URL", "PDS_API_KEY", "PDS_KEY_ID", "PDS_PRIVATE_KEY_FILE",
	"UPSTREAM_TIMEOUT", "REQUEST_TIMEOUT", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUDIT_SECRET", "RELAY_ENABLED", "RELAY_SECRET",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("DOCUMENT_TTL", "30m")
	v.SetDefault("IDENTITY_TTL", "24h")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("COMMUNITY_ID", "2.16.840.1.113883.2.1.3.34.9001")
	v.SetDefault("REPOSITORY_ID", "2.16.840.1.113883.2.1.3.34.9001.1")
	v.SetDefault("ORGANISATION_NAME", "Xhuma")
	v.SetDefault("ODS_CODE", "Y12345")
	v.SetDefault("GPCONNECT_URL", "https://orange.testlab.nhs.uk/B82617/STU3/1/gpconnect/structured/fhir")
	v.SetDefault("GPCONNECT_FROM_ASID", "200000000359")
	v.SetDefault("GPCONNECT_TO_ASID", "918999198738")
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CacheIsRedis reports whether correlation entries live in Redis.
func (c *Config) CacheIsRedis() bool {
	return c.CacheBackend == "redis"
}

// Validate checks field constraints and the rules that span fields. Slow
// document generation must surface as a SOAP failure body, so the request
// deadline has to outlast the upstream one. In production the cache must
// be shared and audit subjects pseudonymised.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fieldErrors(verrs)
		}
		return err
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RequestTimeout <= c.UpstreamTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT (%s) must exceed UPSTREAM_TIMEOUT (%s)", c.RequestTimeout, c.UpstreamTimeout)
	}
	if c.IsProduction() {
		if !c.CacheIsRedis() {
			return fmt.Errorf("CACHE_BACKEND must be \"redis\" in production")
		}
		if c.AuditSecret == "" {
			return fmt.Errorf("AUDIT_SECRET is required in production")
		}
	}
	return nil
}

// newValidator reports fields by their environment variable name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

func fieldErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if", "required_with":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
