package models

import "time"

type EntryKind string

const (
	EntryKindSubmission EntryKind = "submission"
	EntryKindTombstone  EntryKind = "tombstone"
)

func (k EntryKind) Valid() bool {
	return k == EntryKindSubmission || k == EntryKindTombstone
}

// LedgerEntry is one immutable link of the global hash chain.
type LedgerEntry struct {
	Sequence      int64
	Kind          EntryKind
	ContentDigest []byte
	PreviousHash  []byte
	PrincipalID   string
	Epoch         int64
	// Timestamp is UTC, truncated to microseconds.
	Timestamp time.Time
	Hash      []byte
}

func (e *LedgerEntry) Clone() *LedgerEntry {
	c := *e
	c.ContentDigest = append([]byte(nil), e.ContentDigest...)
	c.PreviousHash = append([]byte(nil), e.PreviousHash...)
	c.Hash = append([]byte(nil), e.Hash...)
	return &c
}
