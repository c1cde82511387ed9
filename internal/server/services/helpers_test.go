package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/server/auth"
	"github.com/dmitrijs2005/trustvault/internal/server/blobstore"
	"github.com/dmitrijs2005/trustvault/internal/server/metrics"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/memory"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/repomanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var testArgon = cryptox.ArgonParams{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

const testSecret = "correct horse"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixtureConfig struct {
	// wrap lets a test interpose on the store.
	wrap         func(*memory.Manager) repomanager.RepositoryManager
	content      blobstore.ContentStore
	rejectStale  bool
	storeTimeout time.Duration
}

type fixture struct {
	mem     *memory.Manager
	repos   repomanager.RepositoryManager
	clock   *fakeClock
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	signer  auth.Signer
	content blobstore.ContentStore

	creds  *CredentialStore
	keys   *KeyLifecycleManager
	ledger *IntegrityLedger
	vault  *RecordVault
	trust  *TrustService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureConfig{})
}

func newFixtureWith(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()

	f := &fixture{
		mem:   memory.NewManager(),
		clock: newFakeClock(),
		reg:   prometheus.NewRegistry(),
	}
	f.repos = f.mem
	if cfg.wrap != nil {
		f.repos = cfg.wrap(f.mem)
	}
	f.metrics = metrics.New(f.reg)

	f.content = cfg.content
	if f.content == nil {
		store, err := blobstore.OpenBadger("")
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		f.content = store
	}

	signer, err := auth.NewHS256Signer(cryptox.NewRandomSealedKey(32))
	require.NoError(t, err)
	f.signer = signer

	wrapper, err := cryptox.NewKeyWrapper(cryptox.NewRandomSealedKey(32))
	require.NoError(t, err)

	hasher, err := cryptox.NewPasswordHasher(testArgon)
	require.NoError(t, err)

	digest, err := cryptox.LookupDigester(cryptox.DefaultDigest)
	require.NoError(t, err)

	f.keys = NewKeyLifecycleManager(f.repos, wrapper, KeyOptions{
		StoreTimeout: cfg.storeTimeout,
		Clock:        f.clock,
		Metrics:      f.metrics,
	})
	f.creds = NewCredentialStore(f.repos, hasher, signer, CredentialOptions{
		StoreTimeout:        cfg.storeTimeout,
		Epochs:              f.keys,
		RejectStaleSessions: cfg.rejectStale,
		Clock:               f.clock,
		Metrics:             f.metrics,
	})
	f.ledger = NewIntegrityLedger(f.repos, digest, LedgerOptions{Clock: f.clock, Metrics: f.metrics})
	f.vault = NewRecordVault(f.repos, f.ledger, f.keys, f.content, VaultOptions{
		ReleaseBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
		Clock:          f.clock,
		Metrics:        f.metrics,
	})
	f.trust = NewTrustService(f.repos, f.creds, f.keys, time.Hour)
	return f
}

func (f *fixture) signup(t *testing.T, identity string) *models.Principal {
	t.Helper()
	p, _, err := f.trust.Signup(context.Background(), RegisterInput{
		DisplayName: "Test " + identity,
		Identity:    identity,
		Secret:      cryptox.NewSecret([]byte(testSecret)),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) submit(t *testing.T, principalID string, content string) *models.Receipt {
	t.Helper()
	r, err := f.vault.Submit(context.Background(), SubmitInput{
		PrincipalID: principalID,
		Title:       "doc",
		FileName:    "doc.txt",
		Content:     []byte(content),
	})
	require.NoError(t, err)
	return r
}

// seedPrincipal stores a principal with an active epoch 0 without going
// through key generation.
func seedPrincipal(ctx context.Context, repos repomanager.RepositoryManager, id string, at time.Time) error {
	return repos.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		if err := r.Principals().Create(ctx, &models.Principal{
			ID: id, DisplayName: id, Identity: id + "@example.com", IsActive: true, CreatedAt: at,
		}); err != nil {
			return err
		}
		return r.Epochs().Insert(ctx, &models.KeyEpoch{
			PrincipalID: id, Algorithm: cryptox.AlgorithmX25519, PublicKey: []byte{1}, CreatedAt: at,
		})
	})
}

// counter reads a counter sample from the fixture registry by its single
// label value. An empty labelValue selects an unlabeled counter.
func (f *fixture) counter(t *testing.T, name, labelValue string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" && len(m.GetLabel()) == 0 {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
