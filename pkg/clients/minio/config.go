package minio

import (
	"errors"
	"time"
)

// maxStatementTruncateLen bounds the db.statement attribute on spans.
const maxStatementTruncateLen = 100

// Defaults for the object store holding the static key set mirror.
const (
	DefaultEndpoint      = "localhost:9000"
	DefaultRegion        = "us-east-1"
	DefaultHealthBucket  = "health-check-probe"
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a secret access key that redacts itself in logs and
// serialized config.
type Secret string

const redacted = "[REDACTED]"

// String returns "[REDACTED]" so the key never reaches a log line.
func (s Secret) String() string { return redacted }

// GoString returns "[REDACTED]" for %#v.
func (s Secret) GoString() string { return redacted }

// Value returns the raw secret key.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted form.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the S3-compatible endpoint settings. Tags are unprefixed;
// the enclosing application config nests it, for example as
// IDENTITY_MINIO_ENDPOINT.
type Config struct {
	Endpoint     string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT" envDefault:"localhost:9000"`
	AccessKey    string `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey    Secret `json:"-" yaml:"-" env:"SECRET_KEY"`
	Region       string `json:"region" yaml:"region" env:"REGION" envDefault:"us-east-1"`
	UseSSL       bool   `json:"use_ssl" yaml:"use_ssl" env:"USE_SSL"`
	HealthBucket string `json:"health_bucket,omitempty" yaml:"health_bucket" env:"HEALTH_BUCKET"`
}

// DefaultConfig returns a Config for a local MinIO without credentials.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
	}
}

// Validate checks c and defaults the region.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	return nil
}

func (c *Config) healthBucket() string {
	if c.HealthBucket == "" {
		return DefaultHealthBucket
	}
	return c.HealthBucket
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
