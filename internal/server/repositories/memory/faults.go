package memory

import (
	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

// The methods below bypass every invariant the repositories enforce. They
// exist to simulate storage-level tampering in integrity tests.

// OverwriteEntry replaces the stored ledger entry with the same sequence.
func (m *Manager) OverwriteEntry(e *models.LedgerEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.Load().clone()
	i := next.ledgerIndex(e.Sequence)
	if i < 0 {
		return false
	}
	next.ledger = append([]*models.LedgerEntry(nil), next.ledger...)
	next.ledger[i] = e.Clone()
	m.state.Store(next)
	return true
}

// DropEntry deletes the ledger entry with the given sequence.
func (m *Manager) DropEntry(sequence int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.Load().clone()
	i := next.ledgerIndex(sequence)
	if i < 0 {
		return false
	}
	l := make([]*models.LedgerEntry, 0, len(next.ledger)-1)
	l = append(l, next.ledger[:i]...)
	next.ledger = append(l, next.ledger[i+1:]...)
	m.state.Store(next)
	return true
}

// OverwriteRecord replaces a stored vault record.
func (m *Manager) OverwriteRecord(r *models.VaultRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.Load().clone()
	next.records[r.ID] = r.Clone()
	m.state.Store(next)
}

// DropEpoch deletes a key epoch row.
func (m *Manager) DropEpoch(principalID string, epoch int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.Load().clone()
	var kept []*models.KeyEpoch
	for _, e := range next.epochs[principalID] {
		if e.Epoch != epoch {
			kept = append(kept, e)
		}
	}
	next.epochs[principalID] = kept
	m.state.Store(next)
}
