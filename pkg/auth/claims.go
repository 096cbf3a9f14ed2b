package auth

import (
	"encoding/json"
	"math"
)

// Claim names used across the validators.
const (
	ClaimSubject           = "sub"
	ClaimIssuer            = "iss"
	ClaimAudience          = "aud"
	ClaimIssuedAt          = "iat"
	ClaimEmail             = "email"
	ClaimPhoneNumber       = "phone_number"
	ClaimUsername          = "username"
	ClaimDirectoryUsername = "directory:username"
	ClaimClientID          = "client_id"
	ClaimTokenUse          = "token_use"
)

// Claims is the verified payload of a token. It is produced per validation
// and never persisted.
type Claims map[string]any

// String returns the claim as a string, or "" if it is absent or not a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Subject returns the sub claim.
func (c Claims) Subject() string { return c.String(ClaimSubject) }

// Issuer returns the iss claim.
func (c Claims) Issuer() string { return c.String(ClaimIssuer) }

// Email returns the email claim.
func (c Claims) Email() string { return c.String(ClaimEmail) }

// IssuedAt returns the iat claim in epoch seconds, or 0 when absent, not
// numeric or outside the int64 range.
func (c Claims) IssuedAt() int64 {
	switch v := c[ClaimIssuedAt].(type) {
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which is itself out of
		// range, hence >=.
		if math.IsNaN(v) || v >= math.MaxInt64 || v < math.MinInt64 {
			return 0
		}
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Has reports whether every named claim is present and non-empty.
func (c Claims) Has(names ...string) bool {
	for _, name := range names {
		v, ok := c[name]
		if !ok || v == nil {
			return false
		}
		if s, isString := v.(string); isString && s == "" {
			return false
		}
	}
	return true
}

// Missing returns the named claims that [Claims.Has] would reject.
func (c Claims) Missing(names ...string) []string {
	var missing []string
	for _, name := range names {
		if !c.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
