package identity

import (
	"context"
)

// Updatable user columns.
const (
	FieldEmail     = "email"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldIsStaff   = "is_staff"
)

// Updatable profile columns.
const (
	FieldExternalUserID     = "external_user_id"
	FieldSubject            = "subject"
	FieldPhoneNumber        = "phone_number"
	FieldLatestGlobalLogout = "latest_global_logout"
	FieldRefreshedAt        = "refreshed_at"
	FieldInstallerID        = "installer_id"
	FieldDealerID           = "dealer_id"
	FieldDealerRetiredAt    = "dealer_retired_at"
	FieldCompanyOwner       = "company_owner"
)

// Store persists users and profiles.
//
// Finders return the user with its profile loaded, or an error with code
// NF_002 when nothing matches. Creates fail with CONF_002 on any uniqueness
// violation: duplicate email, second profile for a user, or a duplicate
// external user id, subject or installer id. Updates write only the named
// fields.
type Store interface {
	FindUserBySubject(ctx context.Context, subject string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	// CreateUser assigns ID and CreatedAt when zero.
	CreateUser(ctx context.Context, u *User) error

	// CreateIdentity stores a new user and its profile in one step,
	// assigning IDs as CreateUser and CreateProfile do and setting
	// p.UserID. On error neither is stored.
	CreateIdentity(ctx context.Context, u *User, p *Profile) error

	// CreateProfile assigns ID when zero.
	CreateProfile(ctx context.Context, p *Profile) error

	// UpdateUser and UpdateProfile fail with NF_002 when the row is gone.
	UpdateUser(ctx context.Context, u *User, fields []string) error
	UpdateProfile(ctx context.Context, p *Profile, fields []string) error
}

// Directory looks people up in the external system of record. A nil
// snapshot with a nil error means no record matched.
type Directory interface {
	LookupByEmail(ctx context.Context, email string) (*Snapshot, error)
}

// DirectoryFunc adapts a function to [Directory].
type DirectoryFunc func(ctx context.Context, email string) (*Snapshot, error)

// LookupByEmail calls f.
func (f DirectoryFunc) LookupByEmail(ctx context.Context, email string) (*Snapshot, error) {
	return f(ctx, email)
}
