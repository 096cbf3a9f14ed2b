// Package directory looks people up in the directory's own PostgreSQL
// database, the system of record for names, roles and dealer relationships.
// The database is read-only from here.
package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	sserr "github.com/firstech/identity-core/pkg/errors"
	"github.com/firstech/identity-core/pkg/identity"
)

// Querier is the part of the postgres client the directory uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DefaultAccessLevels are the roles a lookup may return.
var DefaultAccessLevels = []identity.AccessLevel{
	identity.AccessLevelInstaller,
	identity.AccessLevelAdmin,
}

// Directory implements [identity.Directory]. It is safe for concurrent use.
type Directory struct {
	db     Querier
	levels []string
}

var _ identity.Directory = (*Directory)(nil)

// Option configures a [Directory].
type Option func(*Directory)

// WithAccessLevels restricts lookups to people with one of levels.
func WithAccessLevels(levels ...identity.AccessLevel) Option {
	return func(d *Directory) {
		d.levels = d.levels[:0]
		for _, l := range levels {
			d.levels = append(d.levels, string(l))
		}
	}
}

// New returns a directory reading through db, usually a *postgres.Client
// connected to the directory database.
func New(db Querier, opts ...Option) *Directory {
	d := &Directory{db: db}
	WithAccessLevels(DefaultAccessLevels...)(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// An installer row links a user to at most one dealer.
const lookupByEmail = `SELECT us.id, us.email, us.cognito_sub, us.phone_number,
       us.first_name, us.last_name, us.access_type, us.latest_global_logout,
       inst.id, deal.id, deal.retired_date, inst.company_owner
FROM bmapi_user AS us
LEFT JOIN bmapi_installer AS inst ON inst.user_id = us.id
LEFT JOIN bmapi_dealer AS deal ON deal.id = inst.dealer_id
WHERE us.email = $1 AND us.access_type = ANY($2)
LIMIT 1`

// LookupByEmail returns the directory record for email, or nil when no
// person with an allowed access level has it.
func (d *Directory) LookupByEmail(ctx context.Context, email string) (*identity.Snapshot, error) {
	if email == "" {
		return nil, nil
	}

	var (
		snap  identity.Snapshot
		level string
		null  struct {
			Subject      *string
			PhoneNumber  *string
			FirstName    *string
			LastName     *string
			CompanyOwner *bool
		}
	)
	err := d.db.QueryRow(ctx, lookupByEmail, email, d.levels).Scan(
		&snap.UserID, &snap.Email, &null.Subject, &null.PhoneNumber,
		&null.FirstName, &null.LastName, &level, &snap.LatestGlobalLogout,
		&snap.InstallerID, &snap.DealerID, &snap.DealerRetiredAt, &null.CompanyOwner,
	)
	if errors.Is(err, pgx.ErrNoRows) || sserr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap.AccessLevel = identity.AccessLevel(level)
	snap.Subject = deref(null.Subject)
	snap.PhoneNumber = deref(null.PhoneNumber)
	snap.FirstName = deref(null.FirstName)
	snap.LastName = deref(null.LastName)
	snap.CompanyOwner = deref(null.CompanyOwner)
	snap.LatestGlobalLogout = identity.NormalizeTime(snap.LatestGlobalLogout)
	snap.DealerRetiredAt = identity.NormalizeTime(snap.DealerRetiredAt)
	return &snap, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
