package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

var ErrUnwrap = errors.New("cannot unwrap key material")

// KeyWrapper seals private key material with AES-256-GCM under a key
// encryption key that stays inside a memguard enclave between uses.
type KeyWrapper struct {
	kek *SealedKey
}

func NewKeyWrapper(kek *SealedKey) (*KeyWrapper, error) {
	if kek == nil || kek.Size() != 32 {
		return nil, errors.New("key wrapper needs a 32-byte KEK")
	}
	return &KeyWrapper{kek: kek}, nil
}

// Wrap returns nonce||ciphertext. aad binds the result to its owner so a
// wrapped key copied to another row fails to unwrap.
func (w *KeyWrapper) Wrap(plain Secret, aad []byte) (Secret, error) {
	var out []byte
	err := w.kek.With(func(key []byte) error {
		gcm, err := newGCM(key)
		if err != nil {
			return err
		}
		nonce := make([]byte, gcm.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return err
		}
		out = gcm.Seal(nonce, nonce, plain.b, aad)
		return nil
	})
	if err != nil {
		return Secret{}, fmt.Errorf("wrap: %w", err)
	}
	return Secret{b: out}, nil
}

func (w *KeyWrapper) Unwrap(wrapped Secret, aad []byte) (Secret, error) {
	var plain []byte
	err := w.kek.With(func(key []byte) error {
		gcm, err := newGCM(key)
		if err != nil {
			return err
		}
		ns := gcm.NonceSize()
		if len(wrapped.b) < ns+gcm.Overhead() {
			return ErrUnwrap
		}
		plain, err = gcm.Open(nil, wrapped.b[:ns], wrapped.b[ns:], aad)
		if err != nil {
			return ErrUnwrap
		}
		return nil
	})
	if err != nil {
		return Secret{}, err
	}
	return Secret{b: plain}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
