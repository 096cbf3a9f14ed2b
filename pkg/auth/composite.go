package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

// ValidatorConfig selects and configures the trust sources. Each source is
// enabled by the presence of its key setting: the internal validator by
// InternalSigningKey, the identity token validator by Directory.PoolID, and
// the access token validator by Directory.PoolID plus Directory.ClientID.
type ValidatorConfig struct {
	InternalSigningKey Secret          `json:"-" yaml:"-" env:"INTERNAL_SIGNING_KEY"`
	ClockSkew          time.Duration   `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"30s"`
	Directory          DirectoryConfig `json:"directory" yaml:"directory" env:"DIRECTORY"`
	KeySet             KeySetConfig    `json:"jwks" yaml:"jwks" env:"JWKS"`

	// Parallel runs validators concurrently. The result is still the first
	// success in configured order.
	Parallel bool `json:"parallel" yaml:"parallel" env:"PARALLEL" envDefault:"false"`
}

// DirectoryConfig identifies the external directory's user pool.
type DirectoryConfig struct {
	Region     string `json:"region" yaml:"region" env:"REGION"`
	PoolID     string `json:"pool_id" yaml:"pool_id" env:"POOL_ID"`
	IssuerHost string `json:"issuer_host" yaml:"issuer_host" env:"ISSUER_HOST" envDefault:"cognito-idp.amazonaws.com"`

	// IssuerURL overrides the issuer derived from IssuerHost, Region and
	// PoolID.
	IssuerURL string `json:"issuer_url" yaml:"issuer_url" env:"ISSUER_URL"`
	ClientID  string `json:"client_id" yaml:"client_id" env:"CLIENT_ID"`
}

// Issuer returns the configured issuer URL.
func (c DirectoryConfig) Issuer() string {
	if c.IssuerURL != "" {
		return c.IssuerURL
	}
	return DirectoryIssuer(c.IssuerHost, c.Region, c.PoolID)
}

// KeySetConfig tunes the directory's [KeySetCache] and its sources.
type KeySetConfig struct {
	CacheTTL           time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"CACHE_TTL" envDefault:"1h"`
	FallbackTTL        time.Duration `json:"fallback_ttl" yaml:"fallback_ttl" env:"FALLBACK_TTL" envDefault:"5m"`
	MinRefreshInterval time.Duration `json:"min_refresh_interval" yaml:"min_refresh_interval" env:"MIN_REFRESH_INTERVAL" envDefault:"30s"`
	PrimaryTimeout     time.Duration `json:"primary_timeout" yaml:"primary_timeout" env:"PRIMARY_TIMEOUT" envDefault:"1s"`
	FallbackURL        string        `json:"fallback_url" yaml:"fallback_url" env:"FALLBACK_URL"`
	FallbackTimeout    time.Duration `json:"fallback_timeout" yaml:"fallback_timeout" env:"FALLBACK_TIMEOUT" envDefault:"10s"`
	FallbackBucket     string        `json:"fallback_bucket" yaml:"fallback_bucket" env:"FALLBACK_BUCKET"`
	FallbackObject     string        `json:"fallback_object" yaml:"fallback_object" env:"FALLBACK_OBJECT" envDefault:"jwks.json"`
	MirrorKey          string        `json:"mirror_key" yaml:"mirror_key" env:"MIRROR_KEY" envDefault:"identity:jwks"`
	MirrorTTL          time.Duration `json:"mirror_ttl" yaml:"mirror_ttl" env:"MIRROR_TTL" envDefault:"24h"`
}

// Validate checks the trust source settings.
func (c *ValidatorConfig) Validate() error {
	if c.InternalSigningKey == "" && c.Directory.PoolID == "" && c.Directory.IssuerURL == "" {
		return sserr.New(sserr.CodeValidation,
			"auth: at least one trust source must be configured (internal signing key or directory pool)")
	}
	if c.InternalSigningKey != "" && len(c.InternalSigningKey.Value()) < 32 {
		return sserr.New(sserr.CodeValidation, "auth: internal signing key must be at least 32 bytes")
	}
	if c.Directory.PoolID != "" && c.Directory.IssuerURL == "" && c.Directory.Region == "" {
		return sserr.New(sserr.CodeValidation, "auth: directory region is required with a pool id")
	}
	if c.ClockSkew < 0 || c.KeySet.CacheTTL < 0 || c.KeySet.MinRefreshInterval < 0 {
		return sserr.New(sserr.CodeValidation, "auth: durations must be non-negative")
	}
	return nil
}

// directoryEnabled reports whether the directory trust source is configured.
func (c *ValidatorConfig) directoryEnabled() bool {
	return c.Directory.PoolID != "" || c.Directory.IssuerURL != ""
}

// CompositeValidator tries an ordered list of validators and returns the
// claims of the first that accepts the token.
type CompositeValidator struct {
	validators []namedValidator
	parallel   bool
	logger     *slog.Logger
}

type namedValidator struct {
	scheme string
	TokenValidator
}

// CompositeOption configures a [CompositeValidator].
type CompositeOption func(*compositeOptions)

type compositeOptions struct {
	keys       KeyResolver
	fallbacks  []KeySource
	httpClient HTTPClient
	logger     *slog.Logger
	parallel   bool
}

// WithKeyResolver replaces the directory key set cache, typically with a
// static resolver in tests.
func WithKeyResolver(r KeyResolver) CompositeOption {
	return func(o *compositeOptions) { o.keys = r }
}

// WithKeyFallbacks adds fallback sources after the configured static URL.
// The gateway passes the redis mirror and the object storage mirror here.
func WithKeyFallbacks(sources ...KeySource) CompositeOption {
	return func(o *compositeOptions) { o.fallbacks = append(o.fallbacks, sources...) }
}

// WithHTTPClient sets the client used for key set fetches.
func WithHTTPClient(c HTTPClient) CompositeOption {
	return func(o *compositeOptions) { o.httpClient = c }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) CompositeOption {
	return func(o *compositeOptions) { o.logger = l }
}

// WithParallel runs validators concurrently regardless of the config flag.
func WithParallel() CompositeOption {
	return func(o *compositeOptions) { o.parallel = true }
}

// NewCompositeValidator builds the validator list from cfg in fixed order:
// directory identity token, internal token, directory access token.
func NewCompositeValidator(cfg ValidatorConfig, opts ...CompositeOption) (*CompositeValidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := compositeOptions{logger: slog.Default(), parallel: cfg.Parallel}
	for _, opt := range opts {
		opt(&o)
	}

	cv := &CompositeValidator{parallel: o.parallel, logger: o.logger}

	var keys KeyResolver
	if cfg.directoryEnabled() {
		keys = o.keys
		if keys == nil {
			keys = newDirectoryKeySet(cfg, o)
		}
		cv.add(SchemeDirectoryID, NewDirectoryIDValidator(cfg.Directory.Issuer(), keys, cfg.ClockSkew))
	}
	if cfg.InternalSigningKey != "" {
		cv.add(SchemeInternal, NewInternalValidator(cfg.InternalSigningKey, cfg.ClockSkew))
	}
	if cfg.directoryEnabled() && cfg.Directory.ClientID != "" {
		cv.add(SchemeDirectoryAccess,
			NewDirectoryAccessValidator(cfg.Directory.Issuer(), cfg.Directory.ClientID, keys, cfg.ClockSkew))
	}
	return cv, nil
}

func newDirectoryKeySet(cfg ValidatorConfig, o compositeOptions) *KeySetCache {
	ks := cfg.KeySet
	var fallbacks []KeySource
	if ks.FallbackURL != "" {
		fallbacks = append(fallbacks, NewHTTPKeySource(ks.FallbackURL, ks.FallbackTimeout, o.httpClient))
	}
	fallbacks = append(fallbacks, o.fallbacks...)

	return NewKeySetCache(
		NewHTTPKeySource(WellKnownKeySetURL(cfg.Directory.Issuer()), ks.PrimaryTimeout, o.httpClient),
		WithFallbacks(fallbacks...),
		WithKeySetTTL(ks.CacheTTL),
		WithFallbackTTL(ks.FallbackTTL),
		WithMinRefreshInterval(ks.MinRefreshInterval),
		WithKeySetLogger(o.logger),
	)
}

// NewCompositeValidatorFrom wraps validators given explicitly, in order.
func NewCompositeValidatorFrom(validators []TokenValidator, opts ...CompositeOption) *CompositeValidator {
	o := compositeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	cv := &CompositeValidator{parallel: o.parallel, logger: o.logger}
	for _, v := range validators {
		cv.add(schemeOf(v), v)
	}
	return cv
}

func (c *CompositeValidator) add(scheme string, v TokenValidator) {
	c.validators = append(c.validators, namedValidator{scheme: scheme, TokenValidator: v})
}

// Schemes lists the enabled schemes in evaluation order.
func (c *CompositeValidator) Schemes() []string {
	out := make([]string, len(c.validators))
	for i, v := range c.validators {
		out[i] = v.scheme
	}
	return out
}

// Validate returns the claims of the first validator, in configured order,
// that accepts token. If none does it fails with TokenInvalid ("no validator
// matched"); the individual rejections are logged at debug level only.
func (c *CompositeValidator) Validate(ctx context.Context, token string) (Claims, error) {
	ctx, span := startSpan(ctx, "auth.CompositeValidator.Validate")
	defer span.End()

	var (
		claims Claims
		scheme string
		errs   []error
	)
	if c.parallel {
		claims, scheme, errs = c.validateParallel(ctx, token)
	} else {
		claims, scheme, errs = c.validateSequential(ctx, token)
	}
	if claims != nil {
		span.SetAttributes(schemeAttr(scheme))
		return claims, nil
	}

	for i, err := range errs {
		if err == nil {
			continue
		}
		c.logger.DebugContext(ctx, "auth: validator rejected token",
			"scheme", c.validators[i].scheme,
			"error", err,
		)
	}
	err := sserr.TokenInvalid(nil, "auth: no validator matched")
	span.SetAttributes(attribute.Int("auth.validators", len(c.validators)))
	finishSpan(span, err)
	return nil, err
}

func (c *CompositeValidator) validateSequential(ctx context.Context, token string) (Claims, string, []error) {
	errs := make([]error, len(c.validators))
	for i, v := range c.validators {
		claims, err := v.Validate(ctx, token)
		if err == nil {
			return claims, v.scheme, nil
		}
		errs[i] = err
	}
	return nil, "", errs
}

// validateParallel runs every validator and then picks the lowest-index
// success, so the outcome matches sequential evaluation.
func (c *CompositeValidator) validateParallel(ctx context.Context, token string) (Claims, string, []error) {
	results := make([]Claims, len(c.validators))
	errs := make([]error, len(c.validators))

	var wg sync.WaitGroup
	for i, v := range c.validators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = v.Validate(ctx, token)
		}()
	}
	wg.Wait()

	for i, claims := range results {
		if errs[i] == nil && claims != nil {
			return claims, c.validators[i].scheme, nil
		}
	}
	return nil, "", errs
}

func schemeOf(v TokenValidator) string {
	switch v.(type) {
	case *InternalValidator:
		return SchemeInternal
	case *DirectoryIDValidator:
		return SchemeDirectoryID
	case *DirectoryAccessValidator:
		return SchemeDirectoryAccess
	default:
		return "custom"
	}
}
