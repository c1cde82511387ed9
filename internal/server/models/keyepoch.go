package models

import (
	"time"

	"github.com/dmitrijs2005/trustvault/internal/cryptox"
)

// KeyEpoch is one generation of a principal's key material. Exactly one
// epoch per principal has RetiredAt == nil.
type KeyEpoch struct {
	PrincipalID string
	Epoch       int64
	Algorithm   string
	PublicKey   []byte
	// PrivateKey holds the AES-GCM wrapped private key, never the raw one.
	PrivateKey cryptox.Secret
	CreatedAt  time.Time
	RetiredAt  *time.Time
}

func (k *KeyEpoch) Active() bool { return k.RetiredAt == nil }

// Clone returns a deep copy so callers cannot mutate shared state.
func (k *KeyEpoch) Clone() *KeyEpoch {
	c := *k
	c.PublicKey = append([]byte(nil), k.PublicKey...)
	c.PrivateKey = cryptox.NewSecret(k.PrivateKey.Bytes())
	if k.RetiredAt != nil {
		t := *k.RetiredAt
		c.RetiredAt = &t
	}
	return &c
}
