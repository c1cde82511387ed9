package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/logging"
	"github.com/dmitrijs2005/trustvault/internal/server/blobstore"
	"github.com/dmitrijs2005/trustvault/internal/server/metrics"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trustvault/internal/timex"
	"github.com/google/uuid"
)

const (
	defaultDownloadTTL    = 15 * time.Minute
	defaultReleaseRetries = 5
)

type SubmitInput struct {
	PrincipalID string
	Title       string
	Category    string
	FileName    string
	Content     []byte
}

type VaultOptions struct {
	// DownloadTTL is the lifetime of presigned download URLs.
	DownloadTTL time.Duration
	// ReleaseBackOff builds the retry policy for deleting content after a
	// tombstone. Defaults to exponential backoff.
	ReleaseBackOff func() backoff.BackOff
	// ReleaseRetries caps the retries of one content release.
	ReleaseRetries uint64
	Clock          timex.Clock
	Logger         logging.Logger
	Metrics        *metrics.Metrics
}

// RecordVault binds stored content to ledger entries and key epochs.
type RecordVault struct {
	repos   repomanager.RepositoryManager
	ledger  *IntegrityLedger
	epochs  EpochSource
	content blobstore.ContentStore
	opts    VaultOptions
	log     logging.Logger
}

func NewRecordVault(repos repomanager.RepositoryManager, ledger *IntegrityLedger, epochs EpochSource, content blobstore.ContentStore, opts VaultOptions) *RecordVault {
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = defaultDownloadTTL
	}
	if opts.ReleaseBackOff == nil {
		opts.ReleaseBackOff = func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     100 * time.Millisecond,
				RandomizationFactor: backoff.DefaultRandomizationFactor,
				Multiplier:          backoff.DefaultMultiplier,
				MaxInterval:         5 * time.Second,
				MaxElapsedTime:      time.Minute,
				Stop:                backoff.Stop,
				Clock:               backoff.SystemClock,
			}
		}
	}
	if opts.ReleaseRetries == 0 {
		opts.ReleaseRetries = defaultReleaseRetries
	}
	if opts.Clock == nil {
		opts.Clock = timex.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	return &RecordVault{
		repos:   repos,
		ledger:  ledger,
		epochs:  epochs,
		content: content,
		opts:    opts,
		log:     opts.Logger.With("module", "vault"),
	}
}

// Submit stores content, appends its ledger entry and persists the record.
// The entry and the record become visible together or not at all.
func (v *RecordVault) Submit(ctx context.Context, in SubmitInput) (*models.Receipt, error) {
	if len(in.Content) == 0 {
		return nil, common.ErrEmptyContent
	}
	digest := v.ledger.Digester().Sum(in.Content)

	p, err := v.repos.Principals().GetByID(ctx, in.PrincipalID)
	if err != nil {
		if errors.Is(err, common.ErrPrincipalNotFound) {
			return nil, common.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("get principal: %w", err)
	}
	if !p.IsActive {
		return nil, common.ErrPrincipalDeactivated
	}

	epoch, err := v.epochs.CurrentEpoch(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	now := v.opts.Clock.Now().UTC().Truncate(storePrecision)
	locator := blobstore.NewLocator(p.ID, now)
	if err := v.content.Put(ctx, locator, in.Content); err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = in.FileName
	}
	rec := &models.VaultRecord{
		ID:          uuid.NewString(),
		PrincipalID: p.ID,
		Title:       title,
		Category:    strings.TrimSpace(in.Category),
		Locator:     locator,
		FileName:    in.FileName,
		Size:        int64(len(in.Content)),
		Epoch:       epoch.Epoch,
		CreatedAt:   now,
	}

	entry, err := v.ledger.append(ctx, models.EntryKindSubmission, p.ID, epoch.Epoch, digest,
		func(ctx context.Context, r repomanager.Repositories, e *models.LedgerEntry) error {
			rec.LedgerSequence = e.Sequence
			if err := r.Records().Create(ctx, rec); err != nil {
				return fmt.Errorf("create record: %w", err)
			}
			return nil
		})
	if err != nil {
		v.discard(ctx, locator)
		return nil, err
	}

	v.log.Info(ctx, "content submitted", "record_id", rec.ID, "sequence", entry.Sequence, "principal_id", p.ID)
	return &models.Receipt{RecordID: rec.ID, LedgerSequence: entry.Sequence, EntryHash: entry.Hash}, nil
}

func (v *RecordVault) discard(ctx context.Context, locator string) {
	if err := v.content.Delete(context.WithoutCancel(ctx), locator); err != nil {
		v.log.Warn(ctx, "orphaned content left in store", "locator", locator, "error", err)
	}
}

func (v *RecordVault) record(ctx context.Context, recordID string) (*models.VaultRecord, error) {
	rec, err := v.repos.Records().Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, common.ErrRecordNotFound) {
			return nil, common.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// ownRecord loads a live record owned by principalID.
func (v *RecordVault) ownRecord(ctx context.Context, recordID, principalID string) (*models.VaultRecord, error) {
	rec, err := v.record(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.PrincipalID != principalID {
		return nil, common.ErrNotOwner
	}
	if rec.Removed() {
		return nil, common.ErrRecordRemoved
	}
	return rec, nil
}

// attested loads the submission entry of rec and the stored content, and
// checks that they still agree with each other and with rec.
func (v *RecordVault) attested(ctx context.Context, rec *models.VaultRecord) (*models.LedgerEntry, []byte, error) {
	seq := rec.LedgerSequence
	tampered := func(reason string) error {
		return &common.TamperedError{Sequence: seq, Through: seq, Reason: reason}
	}

	entry, err := v.ledger.Entry(ctx, seq)
	if err != nil {
		if errors.Is(err, common.ErrEntryNotFound) {
			return nil, nil, tampered("ledger entry missing")
		}
		return nil, nil, err
	}
	if entry.Kind != models.EntryKindSubmission || entry.PrincipalID != rec.PrincipalID || entry.Epoch != rec.Epoch {
		return nil, nil, tampered("ledger entry does not match record")
	}
	if _, err := v.repos.Epochs().Get(ctx, rec.PrincipalID, rec.Epoch); err != nil {
		if errors.Is(err, common.ErrEpochNotFound) {
			return nil, nil, tampered("key epoch missing")
		}
		return nil, nil, fmt.Errorf("read epoch: %w", err)
	}

	data, err := v.content.Get(ctx, rec.Locator)
	if err != nil {
		if errors.Is(err, blobstore.ErrContentNotFound) {
			return nil, nil, tampered("content missing")
		}
		return nil, nil, fmt.Errorf("read content: %w", err)
	}
	if !bytes.Equal(v.ledger.Digester().Sum(data), entry.ContentDigest) {
		return nil, nil, tampered("content digest mismatch")
	}
	return entry, data, nil
}

// Verify checks that the record's content still matches its ledger entry and
// that the chain up to that entry is intact.
func (v *RecordVault) Verify(ctx context.Context, recordID string) error {
	rec, err := v.record(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.Removed() {
		return common.ErrRecordRemoved
	}
	entry, _, err := v.attested(ctx, rec)
	if err != nil {
		return err
	}
	return v.ledger.VerifyChain(ctx, 0, entry.Sequence)
}

// Tombstone marks the record removed and appends its tombstone entry in one
// transaction. The content bytes are released only afterwards.
func (v *RecordVault) Tombstone(ctx context.Context, recordID, principalID string) (*models.LedgerEntry, error) {
	rec, err := v.ownRecord(ctx, recordID, principalID)
	if err != nil {
		return nil, err
	}
	submitted, err := v.ledger.Entry(ctx, rec.LedgerSequence)
	if err != nil {
		if errors.Is(err, common.ErrEntryNotFound) {
			return nil, &common.TamperedError{Sequence: rec.LedgerSequence, Through: rec.LedgerSequence, Reason: "ledger entry missing"}
		}
		return nil, err
	}
	epoch, err := v.epochs.CurrentEpoch(ctx, principalID)
	if err != nil {
		return nil, err
	}

	removedAt := v.opts.Clock.Now().UTC().Truncate(storePrecision)
	entry, err := v.ledger.append(ctx, models.EntryKindTombstone, principalID, epoch.Epoch, submitted.ContentDigest,
		func(ctx context.Context, r repomanager.Repositories, e *models.LedgerEntry) error {
			if err := r.Records().MarkRemoved(ctx, rec.ID, removedAt, e.Sequence); err != nil {
				if errors.Is(err, common.ErrVersionConflict) {
					return common.ErrRecordRemoved
				}
				return fmt.Errorf("mark record removed: %w", err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	v.log.Info(ctx, "record tombstoned", "record_id", rec.ID, "sequence", entry.Sequence)
	v.release(ctx, rec.Locator)
	return entry, nil
}

// release deletes tombstoned content, retrying with backoff. Failure leaves
// an orphaned blob but never undoes the tombstone.
func (v *RecordVault) release(ctx context.Context, locator string) {
	ctx = context.WithoutCancel(ctx)
	op := func() error {
		return v.content.Delete(ctx, locator)
	}
	notify := func(err error, wait time.Duration) {
		v.opts.Metrics.ContentReleaseRetry()
		v.log.Warn(ctx, "content release failed, retrying", "locator", locator, "error", err, "backoff", wait)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(v.opts.ReleaseBackOff(), v.opts.ReleaseRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		v.log.Error(ctx, "content release abandoned", "locator", locator, "error", err)
	}
}

// List returns the principal's live records, oldest first.
func (v *RecordVault) List(ctx context.Context, principalID string) ([]*models.VaultRecord, error) {
	list, err := v.repos.Records().ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return list, nil
}

// Fetch returns the record and its content after checking the content
// against the ledger. Only the owner may fetch.
func (v *RecordVault) Fetch(ctx context.Context, recordID, principalID string) (*models.VaultRecord, []byte, error) {
	rec, err := v.ownRecord(ctx, recordID, principalID)
	if err != nil {
		return nil, nil, err
	}
	_, data, err := v.attested(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	return rec, data, nil
}

// DownloadURL returns a presigned URL for the record's content when the
// content store can issue one.
func (v *RecordVault) DownloadURL(ctx context.Context, recordID, principalID string) (string, error) {
	presigner, ok := v.content.(blobstore.Presigner)
	if !ok {
		return "", common.ErrPresignUnsupported
	}
	rec, err := v.ownRecord(ctx, recordID, principalID)
	if err != nil {
		return "", err
	}
	url, err := presigner.PresignGet(ctx, rec.Locator, v.opts.DownloadTTL)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}
