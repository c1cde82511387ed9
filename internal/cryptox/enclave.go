package cryptox

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// SealedKey keeps symmetric key bytes encrypted in memory, decrypting them
// only for the duration of a With call.
type SealedKey struct {
	enclave *memguard.Enclave
	size    int
}

// NewSealedKey moves b into an enclave. b is wiped.
func NewSealedKey(b []byte) (*SealedKey, error) {
	if len(b) == 0 {
		return nil, errors.New("sealed key: empty key")
	}
	size := len(b)
	return &SealedKey{enclave: memguard.NewEnclave(b), size: size}, nil
}

// NewRandomSealedKey generates size random bytes directly into an enclave.
func NewRandomSealedKey(size int) *SealedKey {
	return &SealedKey{enclave: memguard.NewEnclaveRandom(size), size: size}
}

// SealedKeyFromBase64 decodes a standard base64 key, as found in config.
func SealedKeyFromBase64(s string) (*SealedKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("sealed key: decode: %w", err)
	}
	return NewSealedKey(b)
}

func (k *SealedKey) Size() int { return k.size }

// With opens the enclave, hands the plaintext key to fn and destroys the
// buffer afterwards. fn must not retain key.
func (k *SealedKey) With(fn func(key []byte) error) error {
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("sealed key: open enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}
