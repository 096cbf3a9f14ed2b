package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstech/identity-core/internal/testutil"
	"github.com/firstech/identity-core/internal/testutil/fixtures"
	"github.com/firstech/identity-core/pkg/auth"
	sserr "github.com/firstech/identity-core/pkg/errors"
	"github.com/firstech/identity-core/pkg/identity"
)

type keyResolver map[string]any

func (k keyResolver) Key(_ context.Context, kid string) (any, error) {
	if key, ok := k[kid]; ok {
		return key, nil
	}
	return nil, sserr.TokenInvalid(nil, "unknown kid")
}

// directory is an in-memory identity.Directory.
type directory struct {
	mu    sync.Mutex
	snaps map[string]identity.Snapshot
	calls atomic.Int32
}

func (d *directory) LookupByEmail(_ context.Context, email string) (*identity.Snapshot, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.snaps[email]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (d *directory) put(s identity.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snaps[s.Email] = s
}

type env struct {
	gate   *Gate
	store  *identity.MemoryStore
	dir    *directory
	signer *fixtures.Signer
	issuer string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	signer := fixtures.NewSigner(t, fixtures.KeyID)
	cfg := auth.ValidatorConfig{
		InternalSigningKey: auth.Secret(fixtures.InternalSecret),
		ClockSkew:          30 * time.Second,
		Directory: auth.DirectoryConfig{
			Region:     fixtures.Region,
			PoolID:     fixtures.PoolID,
			IssuerHost: "cognito-idp.amazonaws.com",
			ClientID:   fixtures.ClientID,
		},
	}
	validator, err := auth.NewCompositeValidator(cfg,
		auth.WithKeyResolver(keyResolver{signer.KeyID: &signer.Key.PublicKey}))
	require.NoError(t, err)

	e := &env{
		store:  identity.NewMemoryStore(),
		dir:    &directory{snaps: make(map[string]identity.Snapshot)},
		signer: signer,
		issuer: cfg.Directory.Issuer(),
	}
	e.gate = New(validator, identity.NewReconciler(e.store, e.dir))
	return e
}

func installer() identity.Snapshot {
	installerID, dealerID := fixtures.InstallerID, fixtures.DealerID
	return identity.Snapshot{
		UserID:      fixtures.UserID,
		Email:       fixtures.Email,
		Subject:     fixtures.Subject,
		PhoneNumber: fixtures.PhoneNumber,
		FirstName:   fixtures.FirstName,
		LastName:    fixtures.LastName,
		AccessLevel: identity.AccessLevelInstaller,
		InstallerID: &installerID,
		DealerID:    &dealerID,
	}
}

func (e *env) internalHeader(t *testing.T, email string, iat time.Time) string {
	t.Helper()
	return "Bearer " + fixtures.SignInternal(t, fixtures.InternalSecret, fixtures.InternalClaims(email, iat))
}

func (e *env) idHeader(t *testing.T, iat time.Time) string {
	t.Helper()
	return "Bearer " + e.signer.Sign(t, fixtures.IDClaims(e.issuer, iat))
}

func TestAuthenticate_HeaderErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	tests := []struct {
		header string
		code   sserr.Code
	}{
		{header: "", code: sserr.CodeAuthenticationMissing},
		{header: "   ", code: sserr.CodeAuthenticationMissing},
		{header: "Bad Token", code: sserr.CodeAuthenticationMalformed},
		{header: "Bearer ", code: sserr.CodeAuthenticationMalformed},
		{header: "Bearer a b", code: sserr.CodeAuthenticationMalformed},
		{header: "Bearer not-a-jwt", code: sserr.CodeAuthenticationInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			t.Parallel()
			user, err := e.gate.Authenticate(context.Background(), tt.header)
			testutil.RequireErrorCode(t, err, tt.code)
			assert.Nil(t, user)
		})
	}
}

func TestAuthenticate_InternalTokenRoundTrip(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.dir.put(installer())

	user, err := e.gate.Authenticate(context.Background(), e.internalHeader(t, fixtures.Email, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, fixtures.Email, user.Email)
	require.NotNil(t, user.Profile)
	assert.Equal(t, fixtures.Subject, user.Profile.Subject)
}

func TestAuthenticate_NewIdentityFromIDToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.dir.put(installer())

	user, err := e.gate.Authenticate(context.Background(), e.idHeader(t, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, fixtures.FirstName, user.FirstName)

	users, profiles := e.store.Len()
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, profiles)
}

func TestAuthenticate_AccessTokenResolvesBySubject(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.dir.put(installer())
	linked, err := e.gate.Authenticate(context.Background(), e.idHeader(t, time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	token := e.signer.Sign(t, fixtures.AccessClaims(e.issuer, time.Now().Add(-time.Minute)))
	user, err := e.gate.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, linked.ID, user.ID)
}

func TestAuthenticate_IdempotentForFreshToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.dir.put(installer())
	iat := time.Now().Add(-10 * time.Minute)
	header := e.idHeader(t, iat)

	first, err := e.gate.Authenticate(context.Background(), header)
	require.NoError(t, err)
	lookups := e.dir.calls.Load()

	changed := installer()
	changed.FirstName = "Janet"
	e.dir.put(changed)

	second, err := e.gate.Authenticate(context.Background(), header)
	require.NoError(t, err)
	assert.Equal(t, lookups, e.dir.calls.Load(), "no directory call without a refresh trigger")
	assert.Equal(t, first.Profile.RefreshedAt, second.Profile.RefreshedAt)
	assert.Equal(t, fixtures.FirstName, second.FirstName)
}

func TestAuthenticate_GlobalLogout(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	logout := time.Now().Add(-time.Hour).Truncate(time.Second)
	snap := installer()
	snap.LatestGlobalLogout = &logout
	e.dir.put(snap)

	_, err := e.gate.Authenticate(context.Background(), e.internalHeader(t, fixtures.Email, logout.Add(-time.Second)))
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationStale)
	assert.True(t, sserr.IsStaleCredentials(err))

	user, err := e.gate.Authenticate(context.Background(), e.internalHeader(t, fixtures.Email, logout))
	require.NoError(t, err)
	assert.NotNil(t, user)

	user, err = e.gate.Authenticate(context.Background(), e.internalHeader(t, fixtures.Email, time.Now()))
	require.NoError(t, err)
	assert.NotNil(t, user)
}

func TestAuthenticate_RetiredDealer(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	retired := time.Now().Add(-24 * time.Hour)
	snap := installer()
	snap.DealerRetiredAt = &retired
	e.dir.put(snap)

	_, err := e.gate.Authenticate(context.Background(), e.idHeader(t, time.Now()))
	testutil.RequireErrorCode(t, err, sserr.CodeAuthorizationInvalidUser)
	assert.True(t, sserr.IsInvalidUser(err))
}

func TestAuthenticate_RetiredDealerWithoutInstallerIsAllowed(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	retired := time.Now().Add(-24 * time.Hour)
	snap := installer()
	snap.InstallerID = nil
	snap.DealerRetiredAt = &retired
	e.dir.put(snap)

	user, err := e.gate.Authenticate(context.Background(), e.idHeader(t, time.Now()))
	require.NoError(t, err)
	assert.NotNil(t, user)
}

func TestAuthenticate_UnknownIdentity(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	user, err := e.gate.Authenticate(context.Background(), e.internalHeader(t, "ghost@example.com", time.Now()))
	require.NoError(t, err)
	assert.Nil(t, user)

	users, profiles := e.store.Len()
	assert.Zero(t, users)
	assert.Zero(t, profiles)
}

func TestAuthenticate_RecordsSpans(t *testing.T) {
	rec := testutil.RecordSpans(t)
	e := newEnv(t)

	_, err := e.gate.Authenticate(context.Background(), "Bearer not-a-jwt")
	require.Error(t, err)
	assert.Contains(t, testutil.SpanNames(rec), "gate.Authenticate")
	assert.Contains(t, testutil.SpanNames(rec), "auth.CompositeValidator.Validate")
}

func TestCredentialsFromClaims(t *testing.T) {
	t.Parallel()
	iat := fixtures.Epoch
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   identity.Credentials
	}{
		{
			name:   "internal",
			claims: fixtures.InternalClaims(fixtures.Email, iat),
			want:   identity.Credentials{Email: fixtures.Email, IssuedAt: iat.Unix()},
		},
		{
			name:   "identity token",
			claims: fixtures.IDClaims("https://issuer", iat),
			want:   identity.Credentials{Email: fixtures.Email, Subject: fixtures.Subject, IssuedAt: iat.Unix()},
		},
		{
			name:   "access token",
			claims: fixtures.AccessClaims("https://issuer", iat),
			want:   identity.Credentials{Subject: fixtures.Subject, IssuedAt: iat.Unix()},
		},
		{
			name:   "no iat",
			claims: jwt.MapClaims{"sub": "x", "iss": "internal"},
			want:   identity.Credentials{Email: "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CredentialsFromClaims(auth.Claims(tt.claims)))
		})
	}
}
