package cryptox

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/ssh"
)

// KeyPair is freshly generated key material. Private is unwrapped.
type KeyPair struct {
	Algorithm string
	Public    []byte
	Private   Secret
}

// KeyGenerator produces asymmetric key pairs from a caller-supplied source of
// randomness.
type KeyGenerator interface {
	Algorithm() string
	Generate(rand io.Reader) (*KeyPair, error)
	// PublicKeyPEM encodes a public key produced by Generate.
	PublicKeyPEM(pub []byte) (string, error)
	Fingerprint(pub []byte) (string, error)
}

const (
	AlgorithmX25519  = "x25519"
	AlgorithmEd25519 = "ed25519"

	DefaultKeyAlgorithm = AlgorithmX25519
)

// X25519Generator produces Diffie-Hellman key pairs usable for decryption.
type X25519Generator struct{}

func (X25519Generator) Algorithm() string { return AlgorithmX25519 }

func (X25519Generator) Generate(rand io.Reader) (*KeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand, priv); err != nil {
		return nil, fmt.Errorf("x25519: read random: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("x25519: derive public: %w", err)
	}
	kp := &KeyPair{Algorithm: AlgorithmX25519, Public: pub, Private: NewSecret(priv)}
	clear(priv)
	return kp, nil
}

func (X25519Generator) PublicKeyPEM(pub []byte) (string, error) {
	pk, err := ecdh.X25519().NewPublicKey(pub)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(pk)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func (X25519Generator) Fingerprint(pub []byte) (string, error) {
	if len(pub) != curve25519.PointSize {
		return "", fmt.Errorf("x25519: bad public key length %d", len(pub))
	}
	sum := sha256.Sum256(pub)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:]), nil
}

// Ed25519Generator produces signing keys. The private key is kept in
// OpenSSH PEM form so it can be handed to ssh tooling unchanged.
type Ed25519Generator struct{}

func (Ed25519Generator) Algorithm() string { return AlgorithmEd25519 }

func (Ed25519Generator) Generate(rand io.Reader) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("ed25519: generate: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("ed25519: marshal private: %w", err)
	}
	kp := &KeyPair{
		Algorithm: AlgorithmEd25519,
		Public:    []byte(pub),
		Private:   NewSecret(pem.EncodeToMemory(block)),
	}
	clear(priv)
	return kp, nil
}

func (Ed25519Generator) PublicKeyPEM(pub []byte) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("ed25519: bad public key length %d", len(pub))
	}
	der, err := x509.MarshalPKIXPublicKey(ed25519.PublicKey(pub))
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func (Ed25519Generator) Fingerprint(pub []byte) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("ed25519: bad public key length %d", len(pub))
	}
	sshPub, err := ssh.NewPublicKey(ed25519.PublicKey(pub))
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(sshPub), nil
}

var generators = map[string]KeyGenerator{
	AlgorithmX25519:  X25519Generator{},
	AlgorithmEd25519: Ed25519Generator{},
}

// LookupGenerator returns the generator registered for algorithm.
func LookupGenerator(algorithm string) (KeyGenerator, bool) {
	g, ok := generators[algorithm]
	return g, ok
}

func KeyAlgorithms() []string {
	names := make([]string, 0, len(generators))
	for n := range generators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
