package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/logging"
	"github.com/dmitrijs2005/trustvault/internal/server/metrics"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trustvault/internal/timex"
	"golang.org/x/sync/errgroup"
)

const day = 24 * time.Hour

type KeyOptions struct {
	// StoreTimeout bounds epoch reads.
	StoreTimeout time.Duration
	// Random feeds the key generators. Defaults to crypto/rand.
	Random io.Reader
	// RotationWorkers caps concurrent rotations in RotateDue.
	RotationWorkers int
	Clock           timex.Clock
	Logger          logging.Logger
	Metrics         *metrics.Metrics
}

type SecuritySettings struct {
	// Algorithm names the generator for future epochs. Empty keeps the
	// current one.
	Algorithm string
	// RotationDays schedules automatic rotation; 0 disables it.
	RotationDays int
}

// RotationReport summarizes one RotateDue pass.
type RotationReport struct {
	Checked int
	Rotated []string
	// Skipped lists principals whose rotation was already in progress.
	Skipped []string
	Failed  map[string]error
}

// KeyLifecycleManager owns each principal's key epochs. Exactly one epoch per
// principal is active; rotation retires it and activates the next one in a
// single store transaction.
type KeyLifecycleManager struct {
	repos   repomanager.RepositoryManager
	wrapper *cryptox.KeyWrapper
	opts    KeyOptions
	log     logging.Logger

	// rotating holds a *sync.Mutex per principal while it rotates.
	rotating sync.Map
}

func NewKeyLifecycleManager(repos repomanager.RepositoryManager, wrapper *cryptox.KeyWrapper, opts KeyOptions) *KeyLifecycleManager {
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if opts.RotationWorkers <= 0 {
		opts.RotationWorkers = 4
	}
	if opts.Clock == nil {
		opts.Clock = timex.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	return &KeyLifecycleManager{
		repos:   repos,
		wrapper: wrapper,
		opts:    opts,
		log:     opts.Logger.With("module", "keys"),
	}
}

// epochAAD binds a wrapped private key to its owner and epoch so a wrapped
// key cannot be replayed under another row.
func epochAAD(principalID string, epoch int64) []byte {
	return []byte(principalID + "/" + strconv.FormatInt(epoch, 10))
}

func generatorFor(algorithm string) (cryptox.KeyGenerator, error) {
	if algorithm == "" {
		algorithm = cryptox.DefaultKeyAlgorithm
	}
	gen, ok := cryptox.LookupGenerator(algorithm)
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", common.ErrUnsupportedAlgorithm, algorithm, cryptox.KeyAlgorithms())
	}
	return gen, nil
}

// newEpoch generates and wraps fresh key material. It does not touch the
// store.
func (m *KeyLifecycleManager) newEpoch(p *models.Principal, epoch int64) (*models.KeyEpoch, error) {
	gen, err := generatorFor(p.KeyAlgorithm)
	if err != nil {
		return nil, err
	}
	kp, err := gen.Generate(m.opts.Random)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	defer kp.Private.Zero()

	wrapped, err := m.wrapper.Wrap(kp.Private, epochAAD(p.ID, epoch))
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}

	return &models.KeyEpoch{
		PrincipalID: p.ID,
		Epoch:       epoch,
		Algorithm:   gen.Algorithm(),
		PublicKey:   kp.Public,
		PrivateKey:  wrapped,
		CreatedAt:   m.opts.Clock.Now().UTC().Truncate(storePrecision),
	}, nil
}

func insertInitial(ctx context.Context, r repomanager.Repositories, e *models.KeyEpoch) error {
	if err := r.Epochs().Insert(ctx, e); err != nil {
		if errors.Is(err, common.ErrVersionConflict) {
			return common.ErrEpochExists
		}
		if errors.Is(err, common.ErrPrincipalNotFound) {
			return common.ErrPrincipalNotFound
		}
		return fmt.Errorf("insert epoch: %w", err)
	}
	return nil
}

// Initialize creates epoch 0 for principal, active immediately.
func (m *KeyLifecycleManager) Initialize(ctx context.Context, principal *models.Principal) (*models.KeyEpoch, error) {
	e, err := m.newEpoch(principal, 0)
	if err != nil {
		return nil, err
	}
	if err := insertInitial(ctx, m.repos, e); err != nil {
		return nil, err
	}
	m.log.Info(ctx, "key epochs initialized", "principal_id", principal.ID, "algorithm", e.Algorithm)
	return e, nil
}

// CurrentEpoch returns the active epoch. It never waits for a rotation: the
// result reflects the state either before or after it.
func (m *KeyLifecycleManager) CurrentEpoch(ctx context.Context, principalID string) (*models.KeyEpoch, error) {
	ctx, cancel := boundedContext(ctx, m.opts.StoreTimeout)
	defer cancel()

	e, err := m.repos.Epochs().Active(ctx, principalID)
	if err != nil {
		if errors.Is(err, common.ErrEpochNotFound) {
			return nil, common.ErrEpochNotFound
		}
		return nil, storeError("read active epoch", err)
	}
	return e, nil
}

func (m *KeyLifecycleManager) rotationLock(principalID string) *sync.Mutex {
	mu, _ := m.rotating.LoadOrStore(principalID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Rotate retires the active epoch and activates the next one. A concurrent
// rotation of the same principal, in this process or another, yields
// common.ErrRotationInProgress and creates nothing.
func (m *KeyLifecycleManager) Rotate(ctx context.Context, principalID string) (next *models.KeyEpoch, err error) {
	defer func() {
		if errors.Is(err, common.ErrRotationInProgress) {
			m.opts.Metrics.Rotation("contended")
		} else {
			m.opts.Metrics.Rotation(outcome(err))
		}
	}()

	mu := m.rotationLock(principalID)
	if !mu.TryLock() {
		return nil, common.ErrRotationInProgress
	}
	defer func() {
		// A rotation racing past the removed entry is still stopped by the
		// retire compare-and-swap.
		m.rotating.CompareAndDelete(principalID, mu)
		mu.Unlock()
	}()

	p, err := m.repos.Principals().GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, common.ErrPrincipalNotFound) {
			return nil, common.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("get principal: %w", err)
	}
	if !p.IsActive {
		return nil, common.ErrPrincipalDeactivated
	}

	current, err := m.CurrentEpoch(ctx, principalID)
	if err != nil {
		return nil, err
	}

	next, err = m.newEpoch(p, current.Epoch+1)
	if err != nil {
		return nil, err
	}

	retiredAt := m.opts.Clock.Now().UTC().Truncate(storePrecision)
	err = m.repos.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		if err := r.Epochs().Retire(ctx, principalID, current.Epoch, retiredAt); err != nil {
			if errors.Is(err, common.ErrVersionConflict) {
				return common.ErrRotationInProgress
			}
			return fmt.Errorf("retire epoch: %w", err)
		}
		if err := r.Epochs().Insert(ctx, next); err != nil {
			if errors.Is(err, common.ErrVersionConflict) {
				return common.ErrRotationInProgress
			}
			return fmt.Errorf("insert epoch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info(ctx, "key rotated", "principal_id", principalID, "retired", current.Epoch, "active", next.Epoch)
	return next, nil
}

// RetiredEpoch returns a retired epoch. Active or unknown epochs yield
// common.ErrEpochNotFound.
func (m *KeyLifecycleManager) RetiredEpoch(ctx context.Context, principalID string, epoch int64) (*models.KeyEpoch, error) {
	e, err := m.Epoch(ctx, principalID, epoch)
	if err != nil {
		return nil, err
	}
	if e.Active() {
		return nil, common.ErrEpochNotFound
	}
	return e, nil
}

func (m *KeyLifecycleManager) Epoch(ctx context.Context, principalID string, epoch int64) (*models.KeyEpoch, error) {
	ctx, cancel := boundedContext(ctx, m.opts.StoreTimeout)
	defer cancel()

	e, err := m.repos.Epochs().Get(ctx, principalID, epoch)
	if err != nil {
		if errors.Is(err, common.ErrEpochNotFound) {
			return nil, common.ErrEpochNotFound
		}
		return nil, storeError("read epoch", err)
	}
	return e, nil
}

// Epochs returns the full epoch history, oldest first.
func (m *KeyLifecycleManager) Epochs(ctx context.Context, principalID string) ([]*models.KeyEpoch, error) {
	ctx, cancel := boundedContext(ctx, m.opts.StoreTimeout)
	defer cancel()

	list, err := m.repos.Epochs().List(ctx, principalID)
	if err != nil {
		return nil, storeError("list epochs", err)
	}
	if len(list) == 0 {
		return nil, common.ErrEpochNotFound
	}
	return list, nil
}

// ExportPublicKey returns the active public key as PEM.
func (m *KeyLifecycleManager) ExportPublicKey(ctx context.Context, principalID string) (string, error) {
	e, err := m.CurrentEpoch(ctx, principalID)
	if err != nil {
		return "", err
	}
	gen, err := generatorFor(e.Algorithm)
	if err != nil {
		return "", err
	}
	return gen.PublicKeyPEM(e.PublicKey)
}

// DecryptionKey unwraps the private key of any epoch, retired ones included.
// Only the owner may request it.
func (m *KeyLifecycleManager) DecryptionKey(ctx context.Context, requester, principalID string, epoch int64) (cryptox.Secret, error) {
	if requester != principalID {
		return cryptox.Secret{}, common.ErrNotOwner
	}
	e, err := m.Epoch(ctx, principalID, epoch)
	if err != nil {
		return cryptox.Secret{}, err
	}
	key, err := m.wrapper.Unwrap(e.PrivateKey, epochAAD(principalID, epoch))
	if err != nil {
		m.log.Error(ctx, "key unwrap failed", "principal_id", principalID, "epoch", epoch)
		return cryptox.Secret{}, fmt.Errorf("unwrap epoch %d: %w", epoch, err)
	}
	return key, nil
}

// UpdateSecuritySettings changes the algorithm used for future epochs and the
// rotation schedule. Existing epochs are left alone.
func (m *KeyLifecycleManager) UpdateSecuritySettings(ctx context.Context, principalID string, in SecuritySettings) error {
	if in.RotationDays < 0 {
		return common.ErrInvalidRotationDays
	}
	algorithm := in.Algorithm
	if algorithm == "" {
		p, err := m.repos.Principals().GetByID(ctx, principalID)
		if err != nil {
			if errors.Is(err, common.ErrPrincipalNotFound) {
				return common.ErrPrincipalNotFound
			}
			return fmt.Errorf("get principal: %w", err)
		}
		algorithm = p.KeyAlgorithm
	}
	gen, err := generatorFor(algorithm)
	if err != nil {
		return err
	}

	if err := m.repos.Principals().UpdateSecuritySettings(ctx, principalID, gen.Algorithm(), in.RotationDays); err != nil {
		if errors.Is(err, common.ErrPrincipalNotFound) {
			return common.ErrPrincipalNotFound
		}
		return fmt.Errorf("update security settings: %w", err)
	}
	m.log.Info(ctx, "security settings updated", "principal_id", principalID, "algorithm", gen.Algorithm(), "rotation_days", in.RotationDays)
	return nil
}

// RotateDue rotates every active principal whose active epoch is at least
// RotationDays old at now. Rotations of different principals run
// concurrently; a failure of one does not stop the others.
func (m *KeyLifecycleManager) RotateDue(ctx context.Context, now time.Time) (RotationReport, error) {
	report := RotationReport{Failed: map[string]error{}}

	candidates, err := m.repos.Principals().ListRotating(ctx)
	if err != nil {
		return report, fmt.Errorf("list rotating principals: %w", err)
	}
	report.Checked = len(candidates)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.RotationWorkers)

	for _, p := range candidates {
		g.Go(func() error {
			active, err := m.CurrentEpoch(gctx, p.ID)
			if err == nil && now.Sub(active.CreatedAt) < time.Duration(p.RotationDays)*day {
				return nil
			}
			if err == nil {
				_, err = m.Rotate(gctx, p.ID)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Rotated = append(report.Rotated, p.ID)
			case errors.Is(err, common.ErrRotationInProgress):
				report.Skipped = append(report.Skipped, p.ID)
			default:
				report.Failed[p.ID] = err
				m.log.Warn(ctx, "scheduled rotation failed", "principal_id", p.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return report, ctx.Err()
}
