package gate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstech/identity-core/internal/testutil/fixtures"
	sserr "github.com/firstech/identity-core/pkg/errors"
)

// whoami echoes the authenticated user's email, or "anonymous".
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if u, ok := UserFromContext(r.Context()); ok {
		_, _ = w.Write([]byte(u.Email))
		return
	}
	_, _ = w.Write([]byte("anonymous"))
})

func serve(t *testing.T, h http.Handler, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHTTPMiddleware_AnonymousWithoutCredentials(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	rec := serve(t, HTTPMiddleware(e.gate)(whoami), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestHTTPMiddleware_AuthenticatedUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.dir.put(installer())

	rec := serve(t, HTTPMiddleware(e.gate)(whoami), e.internalHeader(t, fixtures.Email, time.Now()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fixtures.Email, rec.Body.String())
}

func TestHTTPMiddleware_UnknownIdentityIsAnonymous(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	rec := serve(t, HTTPMiddleware(e.gate)(whoami), e.internalHeader(t, "ghost@example.com", time.Now()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestHTTPMiddleware_Rejections(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	retired := time.Now().Add(-time.Hour)
	snap := installer()
	snap.DealerRetiredAt = &retired
	e.dir.put(snap)

	tests := []struct {
		name   string
		header string
		status int
		code   sserr.Code
	}{
		{name: "malformed", header: "Token abc", status: http.StatusUnauthorized, code: sserr.CodeAuthenticationMalformed},
		{name: "invalid token", header: "Bearer abc", status: http.StatusUnauthorized, code: sserr.CodeAuthenticationInvalid},
		{name: "retired dealer", header: e.idHeader(t, time.Now()), status: http.StatusForbidden, code: sserr.CodeAuthorizationInvalidUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, HTTPMiddleware(e.gate)(whoami), tt.header)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			if tt.status == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestWriteError_HidesInternalMessages(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	WriteError(rec, req, sserr.New(sserr.CodeInternalDatabase, "pq: relation users does not exist"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, sserr.CodeInternalDatabase, body.Code)
	assert.Equal(t, "Internal Server Error", body.Message)
}
