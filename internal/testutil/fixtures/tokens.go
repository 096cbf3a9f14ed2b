package fixtures

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Signer is an RSA key pair with a key id, standing in for the external
// directory's signing key.
type Signer struct {
	KeyID string
	Key   *rsa.PrivateKey
}

// NewSigner generates a 2048-bit RSA signer.
func NewSigner(t testing.TB, kid string) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "generate RSA key")
	return &Signer{KeyID: kid, Key: key}
}

// Sign returns an RS256 token carrying the signer's kid.
func (s *Signer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.KeyID
	out, err := tok.SignedString(s.Key)
	require.NoError(t, err, "sign RS256 token")
	return out
}

// JWK returns the public half as a JSON Web Key.
func (s *Signer) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{Key: &s.Key.PublicKey, KeyID: s.KeyID, Algorithm: "RS256", Use: "sig"}
}

// KeySetDocument marshals the public keys of signers as a JSON Web Key Set.
func KeySetDocument(t testing.TB, signers ...*Signer) []byte {
	t.Helper()
	set := jose.JSONWebKeySet{}
	for _, s := range signers {
		set.Keys = append(set.Keys, s.JWK())
	}
	doc, err := json.Marshal(set)
	require.NoError(t, err, "marshal key set")
	return doc
}

// SignInternal returns an HS256 token signed with secret.
func SignInternal(t testing.TB, secret string, claims jwt.MapClaims) string {
	t.Helper()
	out, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err, "sign HS256 token")
	return out
}

// InternalClaims returns valid internal token claims for email issued at iat.
func InternalClaims(email string, iat time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       email,
		"iss":       "internal",
		"aud":       "internal",
		"token_use": "id",
		"iat":       iat.Unix(),
		"exp":       iat.Add(24 * time.Hour).Unix(),
	}
}

// IDClaims returns valid directory identity token claims.
func IDClaims(issuer string, iat time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":                Subject,
		"iss":                issuer,
		"aud":                ClientID,
		"directory:username": Subject,
		"email":              Email,
		"phone_number":       PhoneNumber,
		"token_use":          "id",
		"iat":                iat.Unix(),
		"exp":                iat.Add(time.Hour).Unix(),
	}
}

// AccessClaims returns valid directory access token claims.
func AccessClaims(issuer string, iat time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       Subject,
		"iss":       issuer,
		"username":  Subject,
		"client_id": ClientID,
		"token_use": "access",
		"scope":     "aws.cognito.signin.user.admin",
		"iat":       iat.Unix(),
		"exp":       iat.Add(time.Hour).Unix(),
	}
}
