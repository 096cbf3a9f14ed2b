package identity

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

// MemoryStore is an in-process [Store] with the same uniqueness rules as
// the PostgreSQL store. It is safe for concurrent use and hands out copies.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*User
	profiles map[uuid.UUID]*Profile // keyed by user id
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]*User),
		profiles: make(map[uuid.UUID]*Profile),
		now:      time.Now,
	}
}

// FindUserBySubject returns the user whose profile carries subject. An
// empty subject never matches.
func (s *MemoryStore) FindUserBySubject(_ context.Context, subject string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject != "" {
		for uid, p := range s.profiles {
			if p.Subject == subject {
				return s.load(uid), nil
			}
		}
	}
	return nil, userNotFound()
}

// FindUserByEmail returns the user with email, with or without a profile.
func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, u := range s.users {
		if u.Email == email {
			return s.load(id), nil
		}
	}
	return nil, userNotFound()
}

// CreateUser stores a copy of u without its profile.
func (s *MemoryStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareUser(u); err != nil {
		return err
	}
	s.insertUser(u)
	return nil
}

// CreateIdentity stores u and p under one lock. Every uniqueness rule is
// checked before either is written.
func (s *MemoryStore) CreateIdentity(_ context.Context, u *User, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareUser(u); err != nil {
		return err
	}
	p.UserID = u.ID
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if err := s.checkProfile(p); err != nil {
		return err
	}
	s.insertUser(u)
	s.profiles[p.UserID] = p.Clone()
	return nil
}

// CreateProfile stores a copy of p for an existing user that has no
// profile yet.
func (s *MemoryStore) CreateProfile(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.UserID]; !ok {
		return sserr.NotFoundf("identity: user %s does not exist", p.UserID)
	}
	if _, ok := s.profiles[p.UserID]; ok {
		return sserr.AlreadyExists(nil, "identity: user already has a profile")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if err := s.checkProfile(p); err != nil {
		return err
	}
	s.profiles[p.UserID] = p.Clone()
	return nil
}

// UpdateUser copies the named fields of u onto the stored user.
func (s *MemoryStore) UpdateUser(_ context.Context, u *User, fields []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[u.ID]
	if !ok {
		return userNotFound()
	}
	next := *stored
	for _, f := range fields {
		switch f {
		case FieldEmail:
			next.Email = u.Email
		case FieldFirstName:
			next.FirstName = u.FirstName
		case FieldLastName:
			next.LastName = u.LastName
		case FieldIsStaff:
			next.IsStaff = u.IsStaff
		default:
			return sserr.Validationf("identity: unknown user field %q", f)
		}
	}
	if slices.Contains(fields, FieldEmail) {
		if err := s.checkUser(&next); err != nil {
			return err
		}
	}
	s.users[u.ID] = &next
	return nil
}

// UpdateProfile copies the named fields of p onto the stored profile.
func (s *MemoryStore) UpdateProfile(_ context.Context, p *Profile, fields []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.profiles[p.UserID]
	if !ok || stored.ID != p.ID {
		return sserr.NotFoundf("identity: profile %s does not exist", p.ID)
	}
	next := stored.Clone()
	src := p.Clone()
	for _, f := range fields {
		switch f {
		case FieldExternalUserID:
			next.ExternalUserID = src.ExternalUserID
		case FieldSubject:
			next.Subject = src.Subject
		case FieldPhoneNumber:
			next.PhoneNumber = src.PhoneNumber
		case FieldLatestGlobalLogout:
			next.LatestGlobalLogout = src.LatestGlobalLogout
		case FieldRefreshedAt:
			next.RefreshedAt = src.RefreshedAt
		case FieldInstallerID:
			next.InstallerID = src.InstallerID
		case FieldDealerID:
			next.DealerID = src.DealerID
		case FieldDealerRetiredAt:
			next.DealerRetiredAt = src.DealerRetiredAt
		case FieldCompanyOwner:
			next.CompanyOwner = src.CompanyOwner
		default:
			return sserr.Validationf("identity: unknown profile field %q", f)
		}
	}
	if err := s.checkProfile(next); err != nil {
		return err
	}
	s.profiles[p.UserID] = next
	return nil
}

// Len reports the number of users and profiles.
func (s *MemoryStore) Len() (users, profiles int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.profiles)
}

// load returns a copy of the user with its profile. Callers hold mu.
func (s *MemoryStore) load(id uuid.UUID) *User {
	u := s.users[id].Clone()
	u.Profile = s.profiles[id].Clone()
	return u
}

// prepareUser assigns defaults to u and checks it can be inserted. Callers
// hold mu.
func (s *MemoryStore) prepareUser(u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = Truncate(s.now())
	}
	if _, ok := s.users[u.ID]; ok {
		return sserr.AlreadyExists(nil, "identity: user id already exists")
	}
	return s.checkUser(u)
}

// insertUser stores a copy of u without its profile. Callers hold mu.
func (s *MemoryStore) insertUser(u *User) {
	stored := u.Clone()
	stored.Profile = nil
	s.users[u.ID] = stored
}

// checkUser enforces unique emails. Callers hold mu.
func (s *MemoryStore) checkUser(u *User) error {
	for id, other := range s.users {
		if id != u.ID && other.Email == u.Email {
			return sserr.AlreadyExists(nil, "identity: email already in use")
		}
	}
	return nil
}

// checkProfile enforces unique external user ids, non-empty subjects and
// non-nil installer ids across users. Callers hold mu.
func (s *MemoryStore) checkProfile(p *Profile) error {
	for uid, other := range s.profiles {
		if uid == p.UserID {
			continue
		}
		switch {
		case other.ExternalUserID == p.ExternalUserID:
			return sserr.AlreadyExists(nil, "identity: external user id already linked")
		case p.Subject != "" && other.Subject == p.Subject:
			return sserr.AlreadyExists(nil, "identity: subject already linked")
		case p.InstallerID != nil && other.InstallerID != nil && *other.InstallerID == *p.InstallerID:
			return sserr.AlreadyExists(nil, "identity: installer id already linked")
		}
	}
	return nil
}

func userNotFound() *sserr.Error {
	return sserr.New(sserr.CodeNotFoundUser, "identity: user not found")
}
