// Package identity resolves validated bearer credentials to local users.
//
// The package owns three records:
//
//   - [Snapshot] is a read-only projection of a person in the external
//     directory, the system of record for names, roles and dealer
//     relationships. A fresh Snapshot is produced by every lookup.
//   - [Profile] is the locally owned record linking a [User] to its external
//     identity. It is created the first time a credential for a previously
//     unseen identity is accepted and refreshed in place afterwards. A user
//     has at most one profile; profiles are never deleted here.
//   - [User] is the local account. Its name, email and staff flag mirror the
//     directory.
//
// The [Reconciler] turns [Credentials] into a User, creating or refreshing
// state through the narrow [Store] and [Directory] contracts.
//
// Absent values are normalized to one sentinel per kind: "" for strings and
// nil for optional ids, timestamps and the company-owner tri-state.
// Timestamps are truncated to microseconds, the precision PostgreSQL keeps,
// and compared with time.Time.Equal.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// AccessLevel is the directory's role tag.
type AccessLevel string

const (
	// AccessLevelAdmin marks company staff. Local users linked to an admin
	// are staff users.
	AccessLevelAdmin AccessLevel = "firstech_admin"

	// AccessLevelInstaller marks installers working for a dealer.
	AccessLevelInstaller AccessLevel = "installer"
)

// Snapshot is a directory record fetched by email.
type Snapshot struct {
	UserID             int64       `json:"user_id"`
	Email              string      `json:"email"`
	Subject            string      `json:"subject"`
	PhoneNumber        string      `json:"phone_number"`
	FirstName          string      `json:"first_name"`
	LastName           string      `json:"last_name"`
	AccessLevel        AccessLevel `json:"access_level"`
	LatestGlobalLogout *time.Time  `json:"latest_global_logout,omitempty"`
	InstallerID        *int64      `json:"installer_id,omitempty"`
	DealerID           *int64      `json:"dealer_id,omitempty"`
	DealerRetiredAt    *time.Time  `json:"dealer_retired_at,omitempty"`
	CompanyOwner       bool        `json:"company_owner"`
}

// IsStaff reports whether the snapshot grants staff status.
func (s *Snapshot) IsStaff() bool {
	return s.AccessLevel == AccessLevelAdmin
}

// Profile links a local user to its directory identity.
type Profile struct {
	ID     uuid.UUID `json:"id" db:"id"`
	UserID uuid.UUID `json:"user_id" db:"user_id"`

	// ExternalUserID is the directory's numeric user id. Unique.
	ExternalUserID int64 `json:"external_user_id" db:"external_user_id"`

	// Subject is the directory's stable subject id. Unique when non-empty.
	Subject     string `json:"subject" db:"subject"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	// LatestGlobalLogout revokes every token issued before it.
	LatestGlobalLogout *time.Time `json:"latest_global_logout,omitempty" db:"latest_global_logout"`

	// RefreshedAt is when the profile was last written from a snapshot.
	RefreshedAt time.Time `json:"refreshed_at" db:"refreshed_at"`

	// InstallerID is unique when set.
	InstallerID     *int64     `json:"installer_id,omitempty" db:"installer_id"`
	DealerID        *int64     `json:"dealer_id,omitempty" db:"dealer_id"`
	DealerRetiredAt *time.Time `json:"dealer_retired_at,omitempty" db:"dealer_retired_at"`
	CompanyOwner    *bool      `json:"company_owner,omitempty" db:"company_owner"`
}

// RetiredDealer reports an installer attached to a retired dealer.
func (p *Profile) RetiredDealer() bool {
	return p.InstallerID != nil && p.DealerID != nil && p.DealerRetiredAt != nil
}

// RevokedBefore reports whether a token issued at iat predates the latest
// global logout.
func (p *Profile) RevokedBefore(iat time.Time) bool {
	return p.LatestGlobalLogout != nil && iat.Before(*p.LatestGlobalLogout)
}

// User is a local account.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	IsStaff   bool      `json:"is_staff" db:"is_staff"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Profile is nil for users with no directory identity.
	Profile *Profile `json:"profile,omitempty" db:"-"`
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Profile = u.Profile.Clone()
	return &c
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.LatestGlobalLogout = cloneTime(p.LatestGlobalLogout)
	c.InstallerID = cloneInt(p.InstallerID)
	c.DealerID = cloneInt(p.DealerID)
	c.DealerRetiredAt = cloneTime(p.DealerRetiredAt)
	if p.CompanyOwner != nil {
		v := *p.CompanyOwner
		c.CompanyOwner = &v
	}
	return &c
}

// Credentials are the identity attributes carried by a validated token.
type Credentials struct {
	// Email is empty for access tokens.
	Email string

	// Subject is the directory subject id; empty for internal tokens.
	Subject string

	// IssuedAt is the iat claim in epoch seconds, 0 when absent.
	IssuedAt int64
}

// IssuedTime returns IssuedAt as a time.
func (c Credentials) IssuedTime() time.Time {
	return time.Unix(c.IssuedAt, 0).UTC()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
