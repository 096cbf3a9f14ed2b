package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WellKnownKeySetURL returns the conventional key set location for an issuer.
func WellKnownKeySetURL(issuer string) string {
	return strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
}

// HTTPKeySource fetches a key set with a GET request. Each fetch is bounded
// by Timeout in addition to the caller's context.
type HTTPKeySource struct {
	URL     string
	Timeout time.Duration
	Client  HTTPClient
}

// NewHTTPKeySource returns an HTTP source. A nil client means
// http.DefaultClient.
func NewHTTPKeySource(url string, timeout time.Duration, client HTTPClient) *HTTPKeySource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPKeySource{URL: url, Timeout: timeout, Client: client}
}

// Name returns the key set URL.
func (s *HTTPKeySource) Name() string { return s.URL }

// FetchKeySet GETs the key set document. Non-2xx responses and bodies
// over the size limit are errors.
func (s *HTTPKeySource) FetchKeySet(ctx context.Context) ([]byte, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return readLimited(resp.Body)
}

// KeyValueStore is the subset of the redis client used by [MirrorKeySource].
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// MirrorKeySource keeps the last key set fetched from the primary in a
// shared key-value store so that replicas can keep verifying tokens while
// the provider is unreachable. It is both a fallback [KeySource] and a
// [KeySetWriter].
type MirrorKeySource struct {
	store KeyValueStore
	key   string
	ttl   time.Duration
}

// NewMirrorKeySource stores the key set under key for ttl.
func NewMirrorKeySource(store KeyValueStore, key string, ttl time.Duration) *MirrorKeySource {
	return &MirrorKeySource{store: store, key: key, ttl: ttl}
}

// Name returns "mirror:" followed by the storage key.
func (s *MirrorKeySource) Name() string { return "mirror:" + s.key }

// FetchKeySet returns the mirrored document. A missing key surfaces as the
// store's not-found error.
func (s *MirrorKeySource) FetchKeySet(ctx context.Context) ([]byte, error) {
	doc, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// StoreKeySet overwrites the mirror with doc and resets its expiry.
func (s *MirrorKeySource) StoreKeySet(ctx context.Context, doc []byte) error {
	return s.store.Set(ctx, s.key, string(doc), s.ttl)
}

// ObjectReader is the subset of the object storage client used by
// [ObjectKeySource].
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, object string, maxBytes int64) ([]byte, error)
}

// ObjectKeySource reads a static key set mirror from object storage.
type ObjectKeySource struct {
	reader  ObjectReader
	bucket  string
	object  string
	timeout time.Duration
}

// NewObjectKeySource reads bucket/object, bounded by timeout.
func NewObjectKeySource(reader ObjectReader, bucket, object string, timeout time.Duration) *ObjectKeySource {
	return &ObjectKeySource{reader: reader, bucket: bucket, object: object, timeout: timeout}
}

// Name returns the object location as an s3:// URL.
func (s *ObjectKeySource) Name() string { return "s3://" + s.bucket + "/" + s.object }

// FetchKeySet reads the object, rejecting documents over the size limit.
func (s *ObjectKeySource) FetchKeySet(ctx context.Context) ([]byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.reader.ReadObject(ctx, s.bucket, s.object, maxKeySetBytes)
}

func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxKeySetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read key set: %w", err)
	}
	if len(body) > maxKeySetBytes {
		return nil, fmt.Errorf("key set exceeds %d bytes", maxKeySetBytes)
	}
	return body, nil
}
