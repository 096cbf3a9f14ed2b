package auth

// Secret holds signing material. It redacts itself when printed or
// serialized. Use [Secret.Value] only where the raw bytes are needed.
type Secret string

const secretRedacted = "[REDACTED]"

// String returns "[REDACTED]".
func (s Secret) String() string { return secretRedacted }

// GoString returns "[REDACTED]" for %#v.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// MarshalText keeps the secret out of JSON and YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }
