package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstech/identity-core/internal/testutil"
	"github.com/firstech/identity-core/internal/testutil/fixtures"
	sserr "github.com/firstech/identity-core/pkg/errors"
)

func seedStore(t *testing.T, s *MemoryStore, email string, snap *Snapshot) *User {
	t.Helper()
	u := NewUser(email, snap)
	require.NoError(t, s.CreateUser(context.Background(), u))
	p := NewProfile(u.ID, snap, fixtures.Epoch)
	require.NoError(t, s.CreateProfile(context.Background(), p))
	u.Profile = p
	return u
}

func TestMemoryStore_CreateAndFind(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	u := seedStore(t, s, fixtures.Email, snapshot())
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.NotEqual(t, uuid.Nil, u.Profile.ID)
	assert.False(t, u.CreatedAt.IsZero())

	bySub, err := s.FindUserBySubject(context.Background(), fixtures.Subject)
	require.NoError(t, err)
	assert.Equal(t, u.ID, bySub.ID)
	require.NotNil(t, bySub.Profile)

	byEmail, err := s.FindUserByEmail(context.Background(), fixtures.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.FindUserBySubject(context.Background(), "")
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)
	_, err = s.FindUserByEmail(context.Background(), fixtures.AltEmail)
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	seedStore(t, s, fixtures.Email, snapshot())

	u, err := s.FindUserByEmail(context.Background(), fixtures.Email)
	require.NoError(t, err)
	u.FirstName = "mutated"
	u.Profile.PhoneNumber = "mutated"

	again, err := s.FindUserByEmail(context.Background(), fixtures.Email)
	require.NoError(t, err)
	assert.Equal(t, fixtures.FirstName, again.FirstName)
	assert.Equal(t, fixtures.PhoneNumber, again.Profile.PhoneNumber)
}

func TestMemoryStore_Uniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("email", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStore()
		seedStore(t, s, fixtures.Email, snapshot())
		err := s.CreateUser(ctx, &User{Email: fixtures.Email})
		testutil.RequireErrorCode(t, err, sserr.CodeConflictAlreadyExists)
	})

	t.Run("one profile per user", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStore()
		u := seedStore(t, s, fixtures.Email, snapshot())
		snap := snapshot()
		snap.UserID, snap.Subject, snap.InstallerID = 9, "other", nil
		err := s.CreateProfile(ctx, NewProfile(u.ID, snap, fixtures.Epoch))
		testutil.RequireErrorCode(t, err, sserr.CodeConflictAlreadyExists)
	})

	linkSecond := func(t *testing.T, mutate func(*Snapshot)) error {
		s := NewMemoryStore()
		seedStore(t, s, fixtures.Email, snapshot())
		other := &User{Email: fixtures.AltEmail}
		require.NoError(t, s.CreateUser(ctx, other))
		snap := snapshot()
		snap.UserID, snap.Subject, snap.InstallerID = 9, fixtures.AltSubject, nil
		mutate(snap)
		return s.CreateProfile(ctx, NewProfile(other.ID, snap, fixtures.Epoch))
	}

	t.Run("distinct identity", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, linkSecond(t, func(*Snapshot) {}))
	})
	t.Run("external user id", func(t *testing.T) {
		t.Parallel()
		err := linkSecond(t, func(s *Snapshot) { s.UserID = fixtures.UserID })
		testutil.RequireErrorCode(t, err, sserr.CodeConflictAlreadyExists)
	})
	t.Run("subject", func(t *testing.T) {
		t.Parallel()
		err := linkSecond(t, func(s *Snapshot) { s.Subject = fixtures.Subject })
		testutil.RequireErrorCode(t, err, sserr.CodeConflictAlreadyExists)
	})
	t.Run("installer id", func(t *testing.T) {
		t.Parallel()
		id := fixtures.InstallerID
		err := linkSecond(t, func(s *Snapshot) { s.InstallerID = &id })
		testutil.RequireErrorCode(t, err, sserr.CodeConflictAlreadyExists)
	})
	t.Run("empty subjects do not collide", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStore()
		first := snapshot()
		first.Subject = ""
		seedStore(t, s, fixtures.Email, first)
		second := snapshot()
		second.UserID, second.Subject, second.InstallerID = 9, "", nil
		seedStore(t, s, fixtures.AltEmail, second)
	})
}

func TestMemoryStore_UpdateWritesOnlyNamedFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	u := seedStore(t, s, fixtures.Email, snapshot())

	u.FirstName = "Janet"
	u.LastName = "ignored"
	require.NoError(t, s.UpdateUser(ctx, u, []string{FieldFirstName}))

	u.Profile.PhoneNumber = "+15555550199"
	u.Profile.Subject = "ignored"
	require.NoError(t, s.UpdateProfile(ctx, u.Profile, []string{FieldPhoneNumber}))

	got, err := s.FindUserByEmail(ctx, fixtures.Email)
	require.NoError(t, err)
	assert.Equal(t, "Janet", got.FirstName)
	assert.Equal(t, fixtures.LastName, got.LastName)
	assert.Equal(t, "+15555550199", got.Profile.PhoneNumber)
	assert.Equal(t, fixtures.Subject, got.Profile.Subject)

	err = s.UpdateUser(ctx, u, []string{"password"})
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	err := s.UpdateUser(context.Background(), &User{ID: uuid.New()}, []string{FieldFirstName})
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)

	err = s.CreateProfile(context.Background(), &Profile{UserID: uuid.New()})
	assert.True(t, sserr.IsNotFound(err))
}

func TestMemoryStore_CreateIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	u := NewUser(fixtures.Email, snapshot())
	p := NewProfile(uuid.Nil, snapshot(), fixtures.Epoch)
	require.NoError(t, s.CreateIdentity(ctx, u, p))
	assert.Equal(t, u.ID, p.UserID)
	assert.NotEqual(t, uuid.Nil, p.ID)

	got, err := s.FindUserBySubject(ctx, fixtures.Subject)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	// The profile collides on external user id; the user must not be kept.
	err = s.CreateIdentity(ctx, NewUser(fixtures.AltEmail, snapshot()), NewProfile(uuid.Nil, snapshot(), fixtures.Epoch))
	testutil.RequireErrorCode(t, err, sserr.CodeConflictAlreadyExists)
	users, profiles := s.Len()
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, profiles)

	err = s.CreateIdentity(ctx, NewUser(fixtures.Email, snapshot()), &Profile{ExternalUserID: 9})
	testutil.RequireErrorCode(t, err, sserr.CodeConflictAlreadyExists)
}
