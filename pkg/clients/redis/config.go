package redis

import (
	"errors"
	"time"
)

// maxStatementTruncateLen bounds the db.statement attribute on spans.
const maxStatementTruncateLen = 100

// Defaults for the shared key set mirror.
const (
	DefaultHost          = "localhost"
	DefaultPort          = 6379
	DefaultDB            = 0
	DefaultPoolSize      = 10
	DefaultMinIdleConns  = 2
	DefaultMaxRetries    = 3
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 2 * time.Second
	DefaultWriteTimeout  = 2 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a password that redacts itself in logs and serialized config.
type Secret string

const redacted = "[REDACTED]"

// String returns "[REDACTED]" so the password never reaches a log line.
func (s Secret) String() string { return redacted }

// GoString returns "[REDACTED]" for %#v.
func (s Secret) GoString() string { return redacted }

// Value returns the raw password.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted form.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the Redis connection settings. Tags are unprefixed; the
// enclosing application config nests it under its own prefix, for example
// IDENTITY_REDIS_HOST.
//
// When URI is set it takes precedence over Host, Port, DB and Password.
type Config struct {
	URI          string        `json:"uri,omitempty" yaml:"uri" env:"URI"`
	Host         string        `json:"host" yaml:"host" env:"HOST" envDefault:"localhost"`
	Port         int           `json:"port" yaml:"port" env:"PORT" envDefault:"6379"`
	DB           int           `json:"db" yaml:"db" env:"DB"`
	Password     Secret        `json:"-" yaml:"-" env:"PASSWORD"`
	TLSEnabled   bool          `json:"tls_enabled" yaml:"tls_enabled" env:"TLS_ENABLED"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"2s"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"2s"`
}

// DefaultConfig returns a Config for a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate checks c and fills zero pool settings with defaults.
func (c *Config) Validate() error {
	if c.URI == "" {
		if c.Host == "" {
			return errors.New("redis: config host must not be empty")
		}
		if c.Port < 1 || c.Port > 65535 {
			return errors.New("redis: config port must be between 1 and 65535")
		}
	}
	if c.DB < 0 || c.DB > 15 {
		return errors.New("redis: config db must be between 0 and 15")
	}
	if c.PoolSize < 0 || c.MinIdleConns < 0 || c.MaxRetries < 0 {
		return errors.New("redis: config pool settings must not be negative")
	}
	if c.MinIdleConns > c.PoolSize && c.PoolSize > 0 {
		return errors.New("redis: config min_idle_conns must not exceed pool_size")
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return nil
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
