package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ArgonParams tunes argon2id. Memory is in KiB.
type ArgonParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

var DefaultArgon = ArgonParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

var ErrInvalidHash = errors.New("invalid secret hash")

// Upper bounds accepted when reading parameters back from a stored hash.
const (
	maxArgonMemory = 1 << 20 // KiB
	maxArgonTime   = 16
	maxArgonKeyLen = 64
)

const argonPrefix = "argon2id$"

// PasswordHasher produces and checks encoded argon2id hashes of the form
// argon2id$m=<M>,t=<T>,p=<P>$<b64 salt>$<b64 key>.
type PasswordHasher struct {
	params ArgonParams
	// dummy is verified against when the identity is unknown so the
	// response time does not reveal whether it exists.
	dummy string
}

func NewPasswordHasher(p ArgonParams) (*PasswordHasher, error) {
	if !argonParamsInRange(p.Memory, p.Time, p.Parallelism) || p.KeyLen < 16 || p.KeyLen > maxArgonKeyLen || p.SaltLen < 8 {
		return nil, fmt.Errorf("argon2id parameters out of range: %+v", p)
	}
	h := &PasswordHasher{params: p}
	dummy, err := h.Hash(Secret{b: []byte("dummy-secret-for-timing")})
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

func (h *PasswordHasher) Hash(secret Secret) (string, error) {
	p := h.params
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey(secret.b, salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("%sm=%d,t=%d,p=%d$%s$%s", argonPrefix,
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches encoded. The comparison is constant
// time; parameters are read from the encoded string so older hashes keep
// verifying after DefaultArgon changes.
func (h *PasswordHasher) Verify(secret Secret, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, argonPrefix) {
		return false, ErrInvalidHash
	}
	parts := strings.Split(encoded[len(argonPrefix):], "$")
	if len(parts) != 3 {
		return false, ErrInvalidHash
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[0], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, ErrInvalidHash
	}
	if !argonParamsInRange(m, t, p) {
		return false, ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, ErrInvalidHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(want) == 0 || len(want) > maxArgonKeyLen {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey(secret.b, salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func argonParamsInRange(m, t uint32, p uint8) bool {
	return t >= 1 && t <= maxArgonTime && p >= 1 && m >= 8*uint32(p) && m <= maxArgonMemory
}

// Burn performs one full verification against a throwaway hash.
func (h *PasswordHasher) Burn(secret Secret) {
	_, _ = h.Verify(secret, h.dummy)
}
