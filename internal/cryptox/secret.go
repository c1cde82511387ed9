package cryptox

import (
	"crypto/subtle"
	"database/sql/driver"
	"fmt"
)

const redacted = "[REDACTED]"

// Secret holds sensitive bytes. It never prints, formats or marshals its
// contents, so it is safe to pass to loggers and encoders by accident.
type Secret struct {
	b []byte
}

// NewSecret copies b into a Secret.
func NewSecret(b []byte) Secret {
	if b == nil {
		return Secret{}
	}
	c := make([]byte, len(b))
	copy(c, b)
	return Secret{b: c}
}

// Bytes returns a copy of the secret bytes.
func (s Secret) Bytes() []byte {
	if s.b == nil {
		return nil
	}
	c := make([]byte, len(s.b))
	copy(c, s.b)
	return c
}

func (s Secret) Len() int { return len(s.b) }

func (s Secret) IsZero() bool { return len(s.b) == 0 }

// Equal compares in constant time.
func (s Secret) Equal(other Secret) bool {
	return subtle.ConstantTimeCompare(s.b, other.b) == 1
}

// Zero overwrites the secret bytes in place.
func (s *Secret) Zero() {
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(redacted))
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Value stores the raw bytes. Only wrapped (encrypted) material is ever kept
// in a Secret that reaches the database.
func (s Secret) Value() (driver.Value, error) {
	if s.b == nil {
		return nil, nil
	}
	return s.Bytes(), nil
}

func (s *Secret) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		s.b = nil
	case []byte:
		*s = NewSecret(v)
	case string:
		*s = NewSecret([]byte(v))
	default:
		return fmt.Errorf("cryptox: cannot scan %T into Secret", src)
	}
	return nil
}
