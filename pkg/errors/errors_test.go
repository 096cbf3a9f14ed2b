package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  MissingCredentials(),
			want: "AUTH_004: authorization header is missing",
		},
		{
			name: "with cause",
			err:  TokenInvalid(errors.New("signature is invalid"), "internal token rejected"),
			want: "AUTH_003: internal token rejected: signature is invalid",
		},
		{
			name: "nested error cause",
			err:  Wrap(New(CodeTimeoutDatabase, "query timed out"), CodeInternal, "lookup failed"),
			want: "INT_001: lookup failed: TIMEOUT_002: query timed out",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_HTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeAuthenticationMissing, http.StatusUnauthorized},
		{CodeAuthenticationMalformed, http.StatusUnauthorized},
		{CodeAuthenticationInvalid, http.StatusUnauthorized},
		{CodeAuthenticationStale, http.StatusUnauthorized},
		{CodeAuthorizationInvalidUser, http.StatusForbidden},
		{CodeNotFoundUser, http.StatusNotFound},
		{CodeConflictAlreadyExists, http.StatusConflict},
		{CodeInternalDatabase, http.StatusInternalServerError},
		{CodeUnavailableDependency, http.StatusServiceUnavailable},
		{CodeTimeoutDependency, http.StatusGatewayTimeout},
		{Code("UNKNOWN"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus())
		})
	}
}

func TestCode_Category(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "AUTH", CodeAuthenticationStale.Category())
	assert.Equal(t, "AUTHZ", CodeAuthorizationInvalidUser.Category())
	assert.Equal(t, "UNAVAIL", CodeUnavailableDependency.Category())
	assert.Equal(t, "PLAIN", Code("PLAIN").Category())
}

func TestWrap_NilReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Wrap(nil, CodeInternal, "x"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "x %d", 1))
}

func TestWrap_PreservesCauseChain(t *testing.T) {
	t.Parallel()
	root := errors.New("connection refused")
	err := Wrapf(root, CodeUnavailableDependency, "fetch %s", "jwks")

	assert.ErrorIs(t, err, root)
	assert.Equal(t, "fetch jwks", err.Message)
}

func TestWithDetail_DoesNotMutateOriginal(t *testing.T) {
	t.Parallel()
	orig := InvalidUser("dealer retired")
	withKid := orig.WithDetail("dealer_id", int64(7))

	assert.Nil(t, orig.Details)
	assert.Equal(t, int64(7), withKid.Details["dealer_id"])
	assert.Equal(t, orig.Code, withKid.Code)
}

func TestFormat(t *testing.T) {
	t.Parallel()
	err := Wrap(errors.New("boom"), CodeInternalDatabase, "insert failed").WithDetail("table", "users")

	assert.Equal(t, err.Error(), fmt.Sprintf("%v", err))
	assert.Equal(t, err.Error(), fmt.Sprintf("%s", err))
	assert.Equal(t, fmt.Sprintf("%q", err.Error()), fmt.Sprintf("%q", err))
	assert.Equal(t,
		`Error{Code: "INT_002", Message: "insert failed", Details: map[table:users], Cause: boom}`,
		fmt.Sprintf("%+v", err))
}

func TestFromError(t *testing.T) {
	t.Parallel()
	assert.Nil(t, FromError(nil))

	domain := StaleCredentials()
	assert.Same(t, domain, FromError(fmt.Errorf("context: %w", domain)))

	foreign := FromError(errors.New("plain"))
	require.NotNil(t, foreign)
	assert.Equal(t, CodeInternal, foreign.Code)
}

func TestKindChecks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"missing", MissingCredentials(), IsMissingCredentials},
		{"malformed", MalformedHeader("no credentials provided"), IsMalformedHeader},
		{"invalid", TokenInvalid(nil, "no validator matched"), IsTokenInvalid},
		{"stale", StaleCredentials(), IsStaleCredentials},
		{"invalid user", InvalidUser("locked"), IsInvalidUser},
		{"conflict", AlreadyExists(nil, "profile exists"), IsConflict},
		{"not found", NotFoundf("user %q", "a@b.c"), IsNotFound},
		{"validation", Validationf("field %s", "x"), IsValidation},
		{"internal", Internal("x"), IsInternal},
		{"unavailable", New(CodeUnavailableDependency, "x"), IsUnavailable},
		{"timeout", New(CodeTimeoutDatabase, "x"), IsTimeout},
		{"authn", MalformedHeader("x"), IsAuthentication},
		{"authz", InvalidUser("x"), IsAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestAuthenticationKindsAreDistinct(t *testing.T) {
	t.Parallel()
	err := MalformedHeader("should not contain spaces")
	assert.False(t, IsMissingCredentials(err))
	assert.False(t, IsTokenInvalid(err))
	assert.False(t, IsAuthorization(err))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRetryable(New(CodeTimeoutDependency, "x")))
	assert.True(t, IsRetryable(New(CodeUnavailableDependency, "x")))
	assert.False(t, IsRetryable(TokenInvalid(nil, "x")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, CodeAuthenticationInvalid, GetCode(TokenInvalid(nil, "x")))
	assert.Equal(t, Code(""), GetCode(errors.New("plain")))
	assert.Equal(t, Code(""), GetCode(nil))
	assert.True(t, HasCode(AlreadyExists(nil, "x"), CodeConflictAlreadyExists))
}
