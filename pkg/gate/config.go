package gate

import (
	"time"

	"github.com/firstech/identity-core/pkg/auth"
	"github.com/firstech/identity-core/pkg/identity"
)

// Config configures the gate's trust sources and the reconciler.
type Config struct {
	Auth      auth.ValidatorConfig `json:"auth" yaml:"auth" env:"AUTH"`
	Reconcile ReconcileConfig      `json:"reconcile" yaml:"reconcile" env:"RECONCILE"`
}

// ReconcileConfig tunes [identity.Reconciler].
type ReconcileConfig struct {
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval" env:"REFRESH_INTERVAL" envDefault:"1h"`
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts" env:"MAX_ATTEMPTS" envDefault:"3"`
}

// Options returns the reconciler options for c.
func (c ReconcileConfig) Options() []identity.Option {
	return []identity.Option{
		identity.WithRefreshInterval(c.RefreshInterval),
		identity.WithMaxAttempts(c.MaxAttempts),
	}
}

// Validate checks the trust source settings.
func (c *Config) Validate() error {
	return c.Auth.Validate()
}
