// Package auth mints and parses signed session tokens.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Signer signs and verifies JWTs with a single fixed method. Verification
// checks only the signature; time-based claims are left to the caller so it
// can apply its own clock.
type Signer interface {
	Algorithm() string
	Sign(claims jwt.Claims) (string, error)
	Verify(token string, claims jwt.Claims) (*jwt.Token, error)
}

const (
	SignerHS256 = "hs256"
	SignerEdDSA = "eddsa"
)

// NewSigner builds the signer named kind from key material held in an
// enclave. hs256 uses the key directly; eddsa treats it as an ed25519 seed.
func NewSigner(kind string, key *cryptox.SealedKey) (Signer, error) {
	switch kind {
	case SignerHS256, "":
		return NewHS256Signer(key)
	case SignerEdDSA:
		return NewEdDSASigner(key)
	default:
		return nil, fmt.Errorf("unknown session signer %q", kind)
	}
}

// HS256Signer is the default symmetric signer.
type HS256Signer struct {
	key *cryptox.SealedKey
}

func NewHS256Signer(key *cryptox.SealedKey) (*HS256Signer, error) {
	if key == nil || key.Size() < 32 {
		return nil, errors.New("hs256 signer needs a key of at least 32 bytes")
	}
	return &HS256Signer{key: key}, nil
}

func (s *HS256Signer) Algorithm() string { return jwt.SigningMethodHS256.Alg() }

func (s *HS256Signer) Sign(claims jwt.Claims) (token string, err error) {
	err = s.key.With(func(key []byte) error {
		token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
		return err
	})
	return token, err
}

func (s *HS256Signer) Verify(token string, claims jwt.Claims) (tok *jwt.Token, err error) {
	err = s.key.With(func(key []byte) error {
		tok, err = jwt.ParseWithClaims(token, claims,
			func(*jwt.Token) (any, error) { return key, nil },
			jwt.WithValidMethods([]string{s.Algorithm()}),
			jwt.WithoutClaimsValidation(),
		)
		return err
	})
	return tok, err
}

// EdDSASigner signs with ed25519. Verification uses only the public half.
type EdDSASigner struct {
	seed *cryptox.SealedKey
	pub  ed25519.PublicKey
}

func NewEdDSASigner(seed *cryptox.SealedKey) (*EdDSASigner, error) {
	if seed == nil || seed.Size() != ed25519.SeedSize {
		return nil, fmt.Errorf("eddsa signer needs a %d-byte seed", ed25519.SeedSize)
	}
	s := &EdDSASigner{seed: seed}
	err := seed.With(func(b []byte) error {
		s.pub = ed25519.NewKeyFromSeed(b).Public().(ed25519.PublicKey)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *EdDSASigner) Algorithm() string { return jwt.SigningMethodEdDSA.Alg() }

func (s *EdDSASigner) Sign(claims jwt.Claims) (token string, err error) {
	err = s.seed.With(func(b []byte) error {
		priv := ed25519.NewKeyFromSeed(b)
		defer clear(priv)
		token, err = jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
		return err
	})
	return token, err
}

func (s *EdDSASigner) Verify(token string, claims jwt.Claims) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.pub, nil },
		jwt.WithValidMethods([]string{s.Algorithm()}),
		jwt.WithoutClaimsValidation(),
	)
}
