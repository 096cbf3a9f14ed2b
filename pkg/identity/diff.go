package identity

import (
	"time"

	"github.com/google/uuid"
)

// Changes lists the fields a snapshot changed on a user and its profile.
type Changes struct {
	User    []string
	Profile []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.User) == 0 && len(c.Profile) == 0
}

// ApplySnapshot copies every tracked snapshot field that differs from u and
// u.Profile onto them and reports which fields changed. u.Profile must not
// be nil. RefreshedAt is not touched.
func ApplySnapshot(u *User, snap *Snapshot) Changes {
	var ch Changes
	p := u.Profile

	if snap.Email != "" && u.Email != snap.Email {
		u.Email = snap.Email
		ch.User = append(ch.User, FieldEmail)
	}
	if u.FirstName != snap.FirstName {
		u.FirstName = snap.FirstName
		ch.User = append(ch.User, FieldFirstName)
	}
	if u.LastName != snap.LastName {
		u.LastName = snap.LastName
		ch.User = append(ch.User, FieldLastName)
	}
	if u.IsStaff != snap.IsStaff() {
		u.IsStaff = snap.IsStaff()
		ch.User = append(ch.User, FieldIsStaff)
	}

	if p.ExternalUserID != snap.UserID {
		p.ExternalUserID = snap.UserID
		ch.Profile = append(ch.Profile, FieldExternalUserID)
	}
	if p.Subject != snap.Subject {
		p.Subject = snap.Subject
		ch.Profile = append(ch.Profile, FieldSubject)
	}
	if p.PhoneNumber != snap.PhoneNumber {
		p.PhoneNumber = snap.PhoneNumber
		ch.Profile = append(ch.Profile, FieldPhoneNumber)
	}
	if logout := NormalizeTime(snap.LatestGlobalLogout); !timesEqual(p.LatestGlobalLogout, logout) {
		p.LatestGlobalLogout = logout
		ch.Profile = append(ch.Profile, FieldLatestGlobalLogout)
	}
	if !intsEqual(p.InstallerID, snap.InstallerID) {
		p.InstallerID = cloneInt(snap.InstallerID)
		ch.Profile = append(ch.Profile, FieldInstallerID)
	}
	if !intsEqual(p.DealerID, snap.DealerID) {
		p.DealerID = cloneInt(snap.DealerID)
		ch.Profile = append(ch.Profile, FieldDealerID)
	}
	if retired := NormalizeTime(snap.DealerRetiredAt); !timesEqual(p.DealerRetiredAt, retired) {
		p.DealerRetiredAt = retired
		ch.Profile = append(ch.Profile, FieldDealerRetiredAt)
	}
	if p.CompanyOwner == nil || *p.CompanyOwner != snap.CompanyOwner {
		owner := snap.CompanyOwner
		p.CompanyOwner = &owner
		ch.Profile = append(ch.Profile, FieldCompanyOwner)
	}
	return ch
}

// NewProfile builds a profile for userID from snap.
func NewProfile(userID uuid.UUID, snap *Snapshot, now time.Time) *Profile {
	owner := snap.CompanyOwner
	return &Profile{
		UserID:             userID,
		ExternalUserID:     snap.UserID,
		Subject:            snap.Subject,
		PhoneNumber:        snap.PhoneNumber,
		LatestGlobalLogout: NormalizeTime(snap.LatestGlobalLogout),
		RefreshedAt:        Truncate(now),
		InstallerID:        cloneInt(snap.InstallerID),
		DealerID:           cloneInt(snap.DealerID),
		DealerRetiredAt:    NormalizeTime(snap.DealerRetiredAt),
		CompanyOwner:       &owner,
	}
}

// NewUser builds a user seeded from snap under email.
func NewUser(email string, snap *Snapshot) *User {
	return &User{
		Email:     email,
		FirstName: snap.FirstName,
		LastName:  snap.LastName,
		IsStaff:   snap.IsStaff(),
	}
}

// Truncate drops sub-microsecond precision and converts to UTC.
func Truncate(t time.Time) time.Time {
	return t.Truncate(time.Microsecond).UTC()
}

// NormalizeTime returns a truncated copy of t, or nil. The zero time counts
// as absent.
func NormalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := Truncate(*t)
	return &v
}

// timesEqual compares after normalization, so nil equals the zero time.
func timesEqual(a, b *time.Time) bool {
	a, b = NormalizeTime(a), NormalizeTime(b)
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// intsEqual reports whether a and b are both nil or point to equal values.
func intsEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
