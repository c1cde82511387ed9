package cryptox

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"sort"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Digester computes fixed-size collision-resistant digests.
type Digester struct {
	name    string
	size    int
	newHash func() hash.Hash
}

func (d Digester) Name() string { return d.name }

// Size is the digest length in bytes.
func (d Digester) Size() int { return d.size }

func (d Digester) New() hash.Hash { return d.newHash() }

func (d Digester) Sum(data []byte) []byte {
	h := d.newHash()
	h.Write(data)
	return h.Sum(nil)
}

func newBlake2b256() hash.Hash {
	// New256 only fails for keys longer than 64 bytes.
	h, _ := blake2b.New256(nil)
	return h
}

var digesters = map[string]Digester{
	"sha256":      {name: "sha256", size: sha256.Size, newHash: sha256.New},
	"blake2b-256": {name: "blake2b-256", size: blake2b.Size256, newHash: newBlake2b256},
	"sha3-256":    {name: "sha3-256", size: 32, newHash: sha3.New256},
}

// DefaultDigest is used when configuration does not name one.
const DefaultDigest = "sha256"

// LookupDigester returns the registered digester for name.
func LookupDigester(name string) (Digester, error) {
	d, ok := digesters[name]
	if !ok {
		return Digester{}, fmt.Errorf("unknown digest %q (known: %v)", name, DigestNames())
	}
	return d, nil
}

// DigestNames lists registered digest names in sorted order.
func DigestNames() []string {
	names := make([]string, 0, len(digesters))
	for n := range digesters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
