// Package testutil provides shared test helpers for identity-core.
//
// Helpers accept testing.TB and call t.Helper() so failures point at the
// caller. Functions that halt the test use testify's require; the Assert*
// variants record a failure and continue.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

// RequireErrorCode halts the test unless err is an *sserr.Error with code.
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	e, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code, "error code mismatch (message: %s)", e.Message)
}

// AssertErrorCode is the non-halting form of [RequireErrorCode].
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	e, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, e.Code, "error code mismatch (message: %s)", e.Message)
}

// AssertJSONNotContains fails if the JSON encoding of v contains
// unexpected. Used to check that secrets are redacted.
func AssertJSONNotContains(t testing.TB, v any, unexpected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	assert.NotContains(t, string(data), unexpected)
}

// RecordSpans installs an in-memory span recorder as the global tracer
// provider for the duration of the test. Tests using it must not run in
// parallel with other span-recording tests.
func RecordSpans(t testing.TB) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(t.Context())
	})
	return rec
}

// SpanNames returns the names of the ended spans in rec.
func SpanNames(rec *tracetest.SpanRecorder) []string {
	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	return names
}

// KeySetServer serves a JSON Web Key Set document and counts requests.
// The document and status can be swapped while the server runs.
type KeySetServer struct {
	*httptest.Server

	mu     sync.Mutex
	doc    []byte
	status int
	hits   atomic.Int32
}

// ServeKeySet starts a [KeySetServer] closed at test cleanup.
func ServeKeySet(t testing.TB, doc []byte) *KeySetServer {
	t.Helper()
	s := &KeySetServer{doc: doc, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		doc, status := s.doc, s.status
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write(doc)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// SetDocument replaces the served document.
func (s *KeySetServer) SetDocument(doc []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
}

// SetStatus makes the server answer with status and no body unless status
// is 200.
func (s *KeySetServer) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Hits reports how many requests the server has handled.
func (s *KeySetServer) Hits() int {
	return int(s.hits.Load())
}

// Clock is a settable time source for components that accept a now func.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
