package models

import "time"

// VaultRecord binds externally stored content to the ledger entry that
// attests it. Removal keeps the row and records the tombstone sequence.
type VaultRecord struct {
	ID          string
	PrincipalID string
	Title       string
	Category    string
	// Locator is the content store key of the blob.
	Locator  string
	FileName string
	Size     int64

	LedgerSequence int64
	Epoch          int64
	CreatedAt      time.Time

	RemovedAt         *time.Time
	TombstoneSequence *int64
}

func (r *VaultRecord) Removed() bool { return r.RemovedAt != nil }

func (r *VaultRecord) Clone() *VaultRecord {
	c := *r
	if r.RemovedAt != nil {
		t := *r.RemovedAt
		c.RemovedAt = &t
	}
	if r.TombstoneSequence != nil {
		s := *r.TombstoneSequence
		c.TombstoneSequence = &s
	}
	return &c
}

// Receipt is returned to the submitter once content is attested.
type Receipt struct {
	RecordID       string
	LedgerSequence int64
	EntryHash      []byte
}
