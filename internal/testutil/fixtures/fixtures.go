// Package fixtures provides shared test identities, token builders and key
// set documents for the identity-core test suite.
package fixtures

import "time"

// Identity values shared across packages.
const (
	Email       = "jane.installer@example.com"
	AltEmail    = "jane.new@example.com"
	Subject     = "0f6c1a52-3d3e-4c8a-9a57-1b1f0c6e2d11"
	AltSubject  = "8a1d5e3b-7c44-4f0e-b5a3-52d9e1f0aa90"
	PhoneNumber = "+15555550100"
	FirstName   = "Jane"
	LastName    = "Installer"
	UserID      = int64(4101)
	InstallerID = int64(77)
	DealerID    = int64(12)
)

// Trust source values.
const (
	// InternalSecret is a 32-byte HMAC key.
	InternalSecret = "internal-signing-key-for-tests!!"
	Region         = "us-east-1"
	PoolID         = "us-east-1_TestPool"
	ClientID       = "4kq1test9client2id"
	KeyID          = "test-key-1"
	RotatedKeyID   = "test-key-2"
)

// Epoch is a fixed reference time for deterministic tests.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
