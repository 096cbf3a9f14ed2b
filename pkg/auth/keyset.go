package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel/attribute"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

// Key set cache defaults.
const (
	DefaultKeySetTTL            = time.Hour
	DefaultFallbackKeySetTTL    = 5 * time.Minute
	DefaultMinRefreshInterval   = 30 * time.Second
	DefaultPrimaryFetchTimeout  = time.Second
	DefaultFallbackFetchTimeout = 10 * time.Second

	maxKeySetBytes = 1 << 20
)

// KeySource fetches a raw JSON Web Key Set document.
type KeySource interface {
	// Name identifies the source in logs and errors.
	Name() string
	FetchKeySet(ctx context.Context) ([]byte, error)
}

// KeySetWriter is implemented by fallback sources that can be refreshed
// from the primary. After every successful primary fetch the cache writes
// the document to each such source.
type KeySetWriter interface {
	StoreKeySet(ctx context.Context, doc []byte) error
}

// KeySetCache maps a key id to a public verification key for one trust
// source.
//
// The whole key set is fetched lazily on first use and again once the TTL
// has elapsed. A kid missing from a fresh cache triggers one early refetch,
// at most once per MinRefreshInterval, so provider key rotation is picked up
// without letting forged kids hammer the provider.
//
// Sources are tried in order. The first is the primary; the rest are
// best-effort mirrors that may lag the primary's rotation. A key set served
// by a fallback is kept only for the shorter fallback TTL so the primary is
// retried soon. If every source fails the error is returned to the caller.
//
// The lock is never held during network I/O. Concurrent misses may fetch
// the same set more than once; the last write wins.
type KeySetCache struct {
	sources     []KeySource
	ttl         time.Duration
	fallbackTTL time.Duration
	minRefresh  time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu          sync.RWMutex
	keys        map[string]any
	source      string
	fetchedAt   time.Time
	expiresAt   time.Time
	lastRefresh time.Time
}

// KeySetOption configures a [KeySetCache].
type KeySetOption func(*KeySetCache)

// WithKeySetTTL sets how long a key set from the primary stays fresh.
func WithKeySetTTL(d time.Duration) KeySetOption {
	return func(c *KeySetCache) { c.ttl = d }
}

// WithFallbackTTL sets how long a key set from a fallback source stays fresh.
func WithFallbackTTL(d time.Duration) KeySetOption {
	return func(c *KeySetCache) { c.fallbackTTL = d }
}

// WithMinRefreshInterval limits unknown-kid refetches. Zero disables the
// limit.
func WithMinRefreshInterval(d time.Duration) KeySetOption {
	return func(c *KeySetCache) { c.minRefresh = d }
}

// WithFallbacks appends fallback sources, tried in the given order.
func WithFallbacks(sources ...KeySource) KeySetOption {
	return func(c *KeySetCache) {
		for _, s := range sources {
			if s != nil {
				c.sources = append(c.sources, s)
			}
		}
	}
}

// WithKeySetLogger sets the logger. The default is slog.Default().
func WithKeySetLogger(l *slog.Logger) KeySetOption {
	return func(c *KeySetCache) { c.logger = l }
}

// WithKeySetClock overrides time.Now, for tests.
func WithKeySetClock(now func() time.Time) KeySetOption {
	return func(c *KeySetCache) { c.now = now }
}

// NewKeySetCache returns a cache backed by primary and any fallbacks given
// through options.
func NewKeySetCache(primary KeySource, opts ...KeySetOption) *KeySetCache {
	c := &KeySetCache{
		sources:     []KeySource{primary},
		ttl:         DefaultKeySetTTL,
		fallbackTTL: DefaultFallbackKeySetTTL,
		minRefresh:  DefaultMinRefreshInterval,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the verification key for kid. Unknown kids fail with
// TokenInvalid; source outages fail with UNAVAIL_002.
func (c *KeySetCache) Key(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, sserr.TokenInvalid(nil, "auth: token header has no kid")
	}

	now := c.now()
	c.mu.RLock()
	key, found := c.keys[kid]
	fresh := c.keys != nil && now.Before(c.expiresAt)
	throttled := c.minRefresh > 0 && now.Sub(c.lastRefresh) < c.minRefresh
	c.mu.RUnlock()

	if found && fresh {
		return key, nil
	}
	if fresh && throttled {
		return nil, unknownKid(kid)
	}

	keys, err := c.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, unknownKid(kid)
}

// Refresh fetches the key set from the first source that yields a usable
// document, replaces the cached keys and returns them.
func (c *KeySetCache) Refresh(ctx context.Context) (map[string]any, error) {
	ctx, span := startSpan(ctx, "auth.KeySetCache.Refresh")
	defer span.End()

	c.mu.Lock()
	c.lastRefresh = c.now()
	c.mu.Unlock()

	var errs []error
	for i, src := range c.sources {
		doc, err := src.FetchKeySet(ctx)
		var keys map[string]any
		if err == nil {
			keys, err = ParseKeySet(doc)
		}
		if err != nil {
			c.logger.WarnContext(ctx, "auth: key source failed",
				"source", src.Name(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}

		ttl := c.ttl
		if i == 0 {
			c.writeThrough(ctx, doc)
		} else {
			ttl = min(c.ttl, c.fallbackTTL)
			c.logger.InfoContext(ctx, "auth: serving key set from fallback",
				"source", src.Name(),
				"keys", len(keys),
			)
		}

		now := c.now()
		c.mu.Lock()
		c.keys = keys
		c.source = src.Name()
		c.fetchedAt = now
		c.expiresAt = now.Add(ttl)
		c.mu.Unlock()

		span.SetAttributes(
			attribute.String("auth.keyset.source", src.Name()),
			attribute.Int("auth.keyset.keys", len(keys)),
		)
		return keys, nil
	}

	err := sserr.Wrap(errors.Join(errs...), sserr.CodeUnavailableDependency,
		"auth: no key source available")
	finishSpan(span, err)
	return nil, err
}

// FetchedAt reports when the cached set was fetched and from which source.
// The zero time means nothing has been fetched yet.
func (c *KeySetCache) FetchedAt() (time.Time, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt, c.source
}

func (c *KeySetCache) writeThrough(ctx context.Context, doc []byte) {
	for _, src := range c.sources[1:] {
		w, ok := src.(KeySetWriter)
		if !ok {
			continue
		}
		if err := w.StoreKeySet(ctx, doc); err != nil {
			c.logger.WarnContext(ctx, "auth: failed to update key set mirror",
				"source", src.Name(),
				"error", err,
			)
		}
	}
}

func unknownKid(kid string) *sserr.Error {
	return sserr.TokenInvalid(nil, "auth: signing key not found").WithDetail("kid", kid)
}

// ParseKeySet decodes a JSON Web Key Set into a kid-indexed map of public
// keys. Keys without a kid, private keys, keys whose use is not "sig" and
// entries go-jose cannot decode are skipped. A set with no usable key is an
// error.
func ParseKeySet(doc []byte) (map[string]any, error) {
	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]any, len(raw.Keys))
	for _, entry := range raw.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(entry); err != nil {
			continue
		}
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		keys[jwk.KeyID] = jwk.Key
	}
	if len(keys) == 0 {
		return nil, errors.New("key set contains no usable signing keys")
	}
	return keys, nil
}
