// Package memory is an in-process, copy-on-write implementation of the
// repositories. Readers load an immutable snapshot without locking; a writer
// clones the snapshot, mutates the clone and publishes it on success.
package memory

import (
	"sort"

	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

// state is never mutated once published. Stored models are treated as
// immutable too: updates replace the pointer. The ledger is append-only, so
// a clone shares its backing array: writers are serialized and a snapshot
// never reads past its own length.
type state struct {
	principals map[string]*models.Principal
	identities map[string]string
	epochs     map[string][]*models.KeyEpoch
	ledger     []*models.LedgerEntry
	records    map[string]*models.VaultRecord
	byOwner    map[string][]string
}

func newState() *state {
	return &state{
		principals: map[string]*models.Principal{},
		identities: map[string]string{},
		epochs:     map[string][]*models.KeyEpoch{},
		records:    map[string]*models.VaultRecord{},
		byOwner:    map[string][]string{},
	}
}

func (s *state) clone() *state {
	c := &state{
		principals: make(map[string]*models.Principal, len(s.principals)),
		identities: make(map[string]string, len(s.identities)),
		epochs:     make(map[string][]*models.KeyEpoch, len(s.epochs)),
		ledger:     s.ledger,
		records:    make(map[string]*models.VaultRecord, len(s.records)),
		byOwner:    make(map[string][]string, len(s.byOwner)),
	}
	for k, v := range s.principals {
		c.principals[k] = v
	}
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.epochs {
		c.epochs[k] = v[:len(v):len(v)]
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.byOwner {
		c.byOwner[k] = v[:len(v):len(v)]
	}
	return c
}

func (s *state) activeEpoch(principalID string) (int, *models.KeyEpoch) {
	list := s.epochs[principalID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Active() {
			return i, list[i]
		}
	}
	return -1, nil
}

// ledgerFirst returns the index of the first entry at or after sequence.
func (s *state) ledgerFirst(sequence int64) int {
	return sort.Search(len(s.ledger), func(i int) bool { return s.ledger[i].Sequence >= sequence })
}

func (s *state) ledgerIndex(sequence int64) int {
	i := s.ledgerFirst(sequence)
	if i < len(s.ledger) && s.ledger[i].Sequence == sequence {
		return i
	}
	return -1
}
