package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstech/identity-core/internal/testutil"
	"github.com/firstech/identity-core/internal/testutil/fixtures"
	sserr "github.com/firstech/identity-core/pkg/errors"
)

// stubSource is an in-memory KeySource that optionally accepts writes.
type stubSource struct {
	name string

	mu     sync.Mutex
	doc    []byte
	err    error
	calls  int
	stored [][]byte
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchKeySet(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.doc, s.err
}

func (s *stubSource) StoreKeySet(_ context.Context, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, doc)
	s.doc = doc
	return nil
}

func (s *stubSource) fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// readOnlySource hides StoreKeySet.
type readOnlySource struct{ src *stubSource }

func (s readOnlySource) Name() string { return s.src.name }

func (s readOnlySource) FetchKeySet(ctx context.Context) ([]byte, error) {
	return s.src.FetchKeySet(ctx)
}

func TestKeySetCache_FetchesOnceAndCaches(t *testing.T) {
	t.Parallel()
	signer := fixtures.NewSigner(t, fixtures.KeyID)
	srv := testutil.ServeKeySet(t, fixtures.KeySetDocument(t, signer))

	cache := NewKeySetCache(NewHTTPKeySource(srv.URL, time.Second, srv.Client()))

	for range 3 {
		key, err := cache.Key(context.Background(), fixtures.KeyID)
		require.NoError(t, err)
		pub, ok := key.(*rsa.PublicKey)
		require.True(t, ok, "expected *rsa.PublicKey, got %T", key)
		assert.Equal(t, signer.Key.PublicKey.N, pub.N)
	}
	assert.Equal(t, 1, srv.Hits())

	fetchedAt, source := cache.FetchedAt()
	assert.False(t, fetchedAt.IsZero())
	assert.Equal(t, srv.URL, source)
}

func TestKeySetCache_RefetchesAfterTTL(t *testing.T) {
	t.Parallel()
	clock := testutil.NewClock(fixtures.Epoch)
	signer := fixtures.NewSigner(t, fixtures.KeyID)
	src := &stubSource{name: "primary", doc: fixtures.KeySetDocument(t, signer)}

	cache := NewKeySetCache(src, WithKeySetTTL(time.Hour), WithKeySetClock(clock.Now))

	_, err := cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)
	clock.Advance(59 * time.Minute)
	_, err = cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)
	assert.Equal(t, 1, src.fetches())

	clock.Advance(2 * time.Minute)
	_, err = cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)
	assert.Equal(t, 2, src.fetches())
}

func TestKeySetCache_UnknownKidPicksUpRotation(t *testing.T) {
	t.Parallel()
	clock := testutil.NewClock(fixtures.Epoch)
	old := fixtures.NewSigner(t, fixtures.KeyID)
	rotated := fixtures.NewSigner(t, fixtures.RotatedKeyID)
	src := &stubSource{name: "primary", doc: fixtures.KeySetDocument(t, old)}

	cache := NewKeySetCache(src, WithKeySetClock(clock.Now))
	_, err := cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)

	require.NoError(t, src.StoreKeySet(context.Background(), fixtures.KeySetDocument(t, old, rotated)))
	clock.Advance(DefaultMinRefreshInterval)

	_, err = cache.Key(context.Background(), fixtures.RotatedKeyID)
	require.NoError(t, err)
	assert.Equal(t, 2, src.fetches())
}

func TestKeySetCache_UnknownKidRefetchIsThrottled(t *testing.T) {
	t.Parallel()
	clock := testutil.NewClock(fixtures.Epoch)
	signer := fixtures.NewSigner(t, fixtures.KeyID)
	src := &stubSource{name: "primary", doc: fixtures.KeySetDocument(t, signer)}

	cache := NewKeySetCache(src, WithKeySetClock(clock.Now), WithMinRefreshInterval(30*time.Second))
	_, err := cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)

	for range 5 {
		_, err = cache.Key(context.Background(), "forged")
		testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationInvalid)
	}
	assert.Equal(t, 1, src.fetches(), "forged kids must not trigger refetches inside the interval")

	clock.Advance(31 * time.Second)
	_, err = cache.Key(context.Background(), "forged")
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationInvalid)
	assert.Equal(t, 2, src.fetches())

	e, _ := sserr.AsError(err)
	assert.Equal(t, "forged", e.Details["kid"])
}

func TestKeySetCache_EmptyKid(t *testing.T) {
	t.Parallel()
	src := &stubSource{name: "primary"}
	cache := NewKeySetCache(src)

	_, err := cache.Key(context.Background(), "")
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationInvalid)
	assert.Zero(t, src.fetches())
}

func TestKeySetCache_FallbackUsesShortTTL(t *testing.T) {
	t.Parallel()
	clock := testutil.NewClock(fixtures.Epoch)
	signer := fixtures.NewSigner(t, fixtures.KeyID)
	primary := &stubSource{name: "primary", err: errors.New("connection refused")}
	mirror := &stubSource{name: "mirror", doc: fixtures.KeySetDocument(t, signer)}

	cache := NewKeySetCache(primary,
		WithFallbacks(mirror),
		WithKeySetTTL(time.Hour),
		WithFallbackTTL(5*time.Minute),
		WithKeySetClock(clock.Now),
	)

	_, err := cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)
	_, source := cache.FetchedAt()
	assert.Equal(t, "mirror", source)

	clock.Advance(4 * time.Minute)
	_, err = cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.fetches())

	clock.Advance(2 * time.Minute)
	_, err = cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)
	assert.Equal(t, 2, primary.fetches(), "primary must be retried once the fallback TTL lapses")
}

func TestKeySetCache_PrimaryWritesThroughToMirrors(t *testing.T) {
	t.Parallel()
	signer := fixtures.NewSigner(t, fixtures.KeyID)
	doc := fixtures.KeySetDocument(t, signer)
	primary := &stubSource{name: "primary", doc: doc}
	mirror := &stubSource{name: "mirror"}
	static := readOnlySource{&stubSource{name: "static"}}

	cache := NewKeySetCache(primary, WithFallbacks(static, mirror))
	_, err := cache.Refresh(context.Background())
	require.NoError(t, err)

	require.Len(t, mirror.stored, 1)
	assert.JSONEq(t, string(doc), string(mirror.stored[0]))
	assert.Empty(t, static.src.stored)
	assert.Zero(t, mirror.fetches())
}

func TestKeySetCache_AllSourcesFail(t *testing.T) {
	t.Parallel()
	srv := testutil.ServeKeySet(t, nil)
	srv.SetStatus(http.StatusServiceUnavailable)
	mirror := &stubSource{name: "mirror", err: errors.New("redis: nil")}

	cache := NewKeySetCache(NewHTTPKeySource(srv.URL, time.Second, srv.Client()), WithFallbacks(mirror))

	_, err := cache.Key(context.Background(), fixtures.KeyID)
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
	assert.Contains(t, err.Error(), "unexpected status 503")
	assert.Contains(t, err.Error(), "redis: nil")
	assert.True(t, sserr.IsRetryable(err))
}

func TestKeySetCache_RefreshRecordsSpan(t *testing.T) {
	rec := testutil.RecordSpans(t)
	signer := fixtures.NewSigner(t, fixtures.KeyID)
	src := &stubSource{name: "primary", doc: fixtures.KeySetDocument(t, signer)}

	_, err := NewKeySetCache(src).Refresh(context.Background())
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "auth.KeySetCache.Refresh", spans[0].Name())
}

func TestParseKeySet(t *testing.T) {
	t.Parallel()
	signer := fixtures.NewSigner(t, fixtures.KeyID)

	t.Run("skips unusable entries", func(t *testing.T) {
		t.Parallel()
		valid := string(fixtures.KeySetDocument(t, signer))
		// Splice an unknown key type and an encryption key alongside the valid one.
		doc := `{"keys":[{"kty":"UNKNOWN","kid":"x"},` +
			`{"kty":"oct","kid":"enc","use":"enc","k":"c2VjcmV0"},` +
			valid[len(`{"keys":[`):]
		keys, err := ParseKeySet([]byte(doc))
		require.NoError(t, err)
		assert.Len(t, keys, 1)
		assert.Contains(t, keys, fixtures.KeyID)
	})

	t.Run("rejects private keys only", func(t *testing.T) {
		t.Parallel()
		jwk := signer.JWK()
		jwk.Key = signer.Key
		doc, err := jwk.MarshalJSON()
		require.NoError(t, err)
		_, err = ParseKeySet([]byte(`{"keys":[` + string(doc) + `]}`))
		assert.Error(t, err)
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		t.Parallel()
		_, err := ParseKeySet([]byte("not json"))
		assert.Error(t, err)
	})

	t.Run("rejects empty set", func(t *testing.T) {
		t.Parallel()
		_, err := ParseKeySet([]byte(`{"keys":[]}`))
		assert.Error(t, err)
	})
}
