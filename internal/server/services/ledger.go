package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/logging"
	"github.com/dmitrijs2005/trustvault/internal/server/metrics"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trustvault/internal/timex"
)

// verifyPageSize is how many entries VerifyChain loads per round-trip.
const verifyPageSize = 512

type LedgerOptions struct {
	Clock   timex.Clock
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// IntegrityLedger is the single global hash chain over submitted content.
// Append is the only mutating operation and is serialized both in process
// and at the store.
type IntegrityLedger struct {
	repos  repomanager.RepositoryManager
	digest cryptox.Digester
	opts   LedgerOptions
	log    logging.Logger

	appendMu sync.Mutex
}

func NewIntegrityLedger(repos repomanager.RepositoryManager, digest cryptox.Digester, opts LedgerOptions) *IntegrityLedger {
	if opts.Clock == nil {
		opts.Clock = timex.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	return &IntegrityLedger{
		repos:  repos,
		digest: digest,
		opts:   opts,
		log:    opts.Logger.With("module", "ledger"),
	}
}

// Digester returns the digest used for both content and entry hashes.
func (l *IntegrityLedger) Digester() cryptox.Digester { return l.digest }

// GenesisHash is the previous-hash value of entry 0.
func (l *IntegrityLedger) GenesisHash() []byte { return make([]byte, l.digest.Size()) }

func writeBytes(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func writeInt(h hash.Hash, v int64) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(v))
	h.Write(n[:])
}

// EntryHash computes the chained hash of e from its stored fields; e.Hash is
// ignored.
func EntryHash(d cryptox.Digester, e *models.LedgerEntry) []byte {
	h := d.New()
	writeBytes(h, []byte(e.Kind))
	writeInt(h, e.Sequence)
	writeBytes(h, e.PreviousHash)
	writeBytes(h, e.ContentDigest)
	writeBytes(h, []byte(e.PrincipalID))
	writeInt(h, e.Epoch)
	writeInt(h, e.Timestamp.UTC().Truncate(storePrecision).UnixNano())
	return h.Sum(nil)
}

// persistFunc runs inside the append transaction after the entry is stored.
// An error rolls back the entry as well.
type persistFunc func(ctx context.Context, r repomanager.Repositories, e *models.LedgerEntry) error

// Append adds a submission entry for contentDigest.
func (l *IntegrityLedger) Append(ctx context.Context, principalID string, epoch int64, contentDigest []byte) (*models.LedgerEntry, error) {
	return l.append(ctx, models.EntryKindSubmission, principalID, epoch, contentDigest, nil)
}

func (l *IntegrityLedger) append(ctx context.Context, kind models.EntryKind, principalID string, epoch int64, contentDigest []byte, persist persistFunc) (*models.LedgerEntry, error) {
	if len(contentDigest) != l.digest.Size() {
		return nil, common.ErrInvalidDigest
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	start := time.Now()

	var entry *models.LedgerEntry
	err := l.repos.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		if err := r.Ledger().Lock(ctx); err != nil {
			return fmt.Errorf("lock ledger: %w", err)
		}
		if _, err := r.Epochs().Get(ctx, principalID, epoch); err != nil {
			if errors.Is(err, common.ErrEpochNotFound) {
				return common.ErrEpochNotFound
			}
			return fmt.Errorf("read epoch: %w", err)
		}

		e := &models.LedgerEntry{
			Kind:          kind,
			ContentDigest: append([]byte(nil), contentDigest...),
			PreviousHash:  l.GenesisHash(),
			PrincipalID:   principalID,
			Epoch:         epoch,
			Timestamp:     l.opts.Clock.Now().UTC().Truncate(storePrecision),
		}
		last, err := r.Ledger().Last(ctx)
		switch {
		case err == nil:
			e.Sequence = last.Sequence + 1
			e.PreviousHash = last.Hash
		case !errors.Is(err, common.ErrEntryNotFound):
			return fmt.Errorf("read ledger head: %w", err)
		}
		e.Hash = EntryHash(l.digest, e)

		if err := r.Ledger().Append(ctx, e); err != nil {
			return fmt.Errorf("append entry: %w", err)
		}
		if persist != nil {
			if err := persist(ctx, r, e); err != nil {
				return err
			}
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.opts.Metrics.LedgerAppended(string(kind), entry.Sequence, time.Since(start))
	l.log.Debug(ctx, "ledger entry appended", "sequence", entry.Sequence, "kind", kind, "principal_id", principalID)
	return entry, nil
}

// VerifyChain recomputes every entry in [from, to] and checks the links
// between them. On failure it returns a *common.TamperedError naming the
// first entry that does not verify; every entry from there through to is
// untrusted.
func (l *IntegrityLedger) VerifyChain(ctx context.Context, from, to int64) (err error) {
	defer func() {
		var te *common.TamperedError
		switch {
		case errors.As(err, &te):
			l.opts.Metrics.ChainVerified("tampered")
			l.log.Error(ctx, "ledger tampering detected", "sequence", te.Sequence, "through", te.Through, "reason", te.Reason)
		case err == nil:
			l.opts.Metrics.ChainVerified("ok")
		}
	}()

	if from < 0 || from > to {
		return common.ErrInvalidRange
	}
	head, err := l.repos.Ledger().Last(ctx)
	if err != nil {
		if errors.Is(err, common.ErrEntryNotFound) {
			return common.ErrInvalidRange
		}
		return fmt.Errorf("read ledger head: %w", err)
	}
	if to > head.Sequence {
		return common.ErrInvalidRange
	}

	tampered := func(seq int64, reason string) error {
		return &common.TamperedError{Sequence: seq, Through: to, Reason: reason}
	}

	prevHash := l.GenesisHash()
	if from > 0 {
		prev, err := l.repos.Ledger().Get(ctx, from-1)
		if err != nil {
			if errors.Is(err, common.ErrEntryNotFound) {
				return tampered(from-1, "entry missing")
			}
			return fmt.Errorf("read entry %d: %w", from-1, err)
		}
		prevHash = EntryHash(l.digest, prev)
	}

	next := from
	for lo := from; lo <= to; lo += verifyPageSize {
		hi := min(lo+verifyPageSize-1, to)
		page, err := l.repos.Ledger().Range(ctx, lo, hi)
		if err != nil {
			return fmt.Errorf("read entries %d-%d: %w", lo, hi, err)
		}
		for _, e := range page {
			if e.Sequence != next {
				return tampered(next, "entry missing")
			}
			if !e.Kind.Valid() {
				return tampered(e.Sequence, "unknown entry kind")
			}
			if !bytes.Equal(e.PreviousHash, prevHash) {
				return tampered(e.Sequence, "previous hash mismatch")
			}
			h := EntryHash(l.digest, e)
			if !bytes.Equal(h, e.Hash) {
				return tampered(e.Sequence, "hash mismatch")
			}
			prevHash = h
			next++
		}
		if next != hi+1 {
			return tampered(next, "entry missing")
		}
	}
	return nil
}

// Head returns the newest entry, or common.ErrEntryNotFound on an empty
// ledger.
func (l *IntegrityLedger) Head(ctx context.Context) (*models.LedgerEntry, error) {
	e, err := l.repos.Ledger().Last(ctx)
	if err != nil {
		if errors.Is(err, common.ErrEntryNotFound) {
			return nil, common.ErrEntryNotFound
		}
		return nil, fmt.Errorf("read ledger head: %w", err)
	}
	return e, nil
}

func (l *IntegrityLedger) Entry(ctx context.Context, sequence int64) (*models.LedgerEntry, error) {
	e, err := l.repos.Ledger().Get(ctx, sequence)
	if err != nil {
		if errors.Is(err, common.ErrEntryNotFound) {
			return nil, common.ErrEntryNotFound
		}
		return nil, fmt.Errorf("read entry %d: %w", sequence, err)
	}
	return e, nil
}
