package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func activeCount(list []*models.KeyEpoch) int {
	n := 0
	for _, e := range list {
		if e.Active() {
			n++
		}
	}
	return n
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.creds.Register(ctx, RegisterInput{DisplayName: "Kim", Identity: "kim@example.com", Secret: secret(testSecret)})
	require.NoError(t, err)

	e, err := f.keys.Initialize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Epoch)
	assert.True(t, e.Active())
	assert.Equal(t, cryptox.AlgorithmX25519, e.Algorithm)
	assert.Len(t, e.PublicKey, curve25519.PointSize)

	current, err := f.keys.CurrentEpoch(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, e.PublicKey, current.PublicKey)

	_, err = f.keys.Initialize(ctx, p)
	assert.ErrorIs(t, err, common.ErrEpochExists)

	_, err = f.keys.Initialize(ctx, &models.Principal{ID: "missing"})
	assert.ErrorIs(t, err, common.ErrPrincipalNotFound)
}

func TestRotate_RetainsRetiredEpoch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.signup(t, "lee@example.com")

	f.clock.Advance(time.Hour)
	next, err := f.keys.Rotate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.Epoch)

	retired, err := f.keys.RetiredEpoch(ctx, p.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, retired.RetiredAt)
	assert.Equal(t, f.clock.Now(), *retired.RetiredAt)

	_, err = f.keys.RetiredEpoch(ctx, p.ID, 1)
	assert.ErrorIs(t, err, common.ErrEpochNotFound)
	_, err = f.keys.RetiredEpoch(ctx, p.ID, 7)
	assert.ErrorIs(t, err, common.ErrEpochNotFound)

	list, err := f.keys.Epochs(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, activeCount(list))
	assert.NotEqual(t, list[0].PublicKey, list[1].PublicKey)
}

func TestRotate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.keys.Rotate(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrPrincipalNotFound)

	p := f.signup(t, "max@example.com")
	require.NoError(t, f.creds.Deactivate(ctx, p.ID))
	_, err = f.keys.Rotate(ctx, p.ID)
	assert.ErrorIs(t, err, common.ErrPrincipalDeactivated)
}

func TestRotate_ConcurrentKeepsSingleActiveEpoch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.signup(t, "ned@example.com")

	const rounds, workers = 5, 8
	for round := 0; round < rounds; round++ {
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.keys.Rotate(ctx, p.ID)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, common.ErrRotationInProgress)
		}
		assert.GreaterOrEqual(t, succeeded, 1)

		list, err := f.keys.Epochs(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, activeCount(list))
		for i, e := range list {
			assert.Equal(t, int64(i), e.Epoch, "epochs are gapless")
		}
	}
}

func TestRotate_ReleasesPrincipalLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.signup(t, "nia@example.com")

	for i := 0; i < 3; i++ {
		_, err := f.keys.Rotate(ctx, p.ID)
		require.NoError(t, err)
		_, held := f.keys.rotating.Load(p.ID)
		assert.False(t, held)
	}

	_, err := f.keys.Rotate(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrPrincipalNotFound)
	_, held := f.keys.rotating.Load("missing")
	assert.False(t, held)
}

func TestRotate_IndependentAcrossPrincipals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.signup(t, "ola@example.com")
	b := f.signup(t, "pam@example.com")

	mu := f.keys.rotationLock(a.ID)
	mu.Lock()
	defer mu.Unlock()

	_, err := f.keys.Rotate(ctx, a.ID)
	assert.ErrorIs(t, err, common.ErrRotationInProgress)

	next, err := f.keys.Rotate(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.Epoch)

	current, err := f.keys.CurrentEpoch(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), current.Epoch)
	assert.Equal(t, 1.0, f.counter(t, "trustvault_key_rotations_total", "contended"))
}

func TestDecryptionKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.signup(t, "quinn@example.com")

	_, err := f.keys.Rotate(ctx, p.ID)
	require.NoError(t, err)

	old, err := f.keys.RetiredEpoch(ctx, p.ID, 0)
	require.NoError(t, err)

	priv, err := f.keys.DecryptionKey(ctx, p.ID, p.ID, 0)
	require.NoError(t, err)
	pub, err := curve25519.X25519(priv.Bytes(), curve25519.Basepoint)
	require.NoError(t, err)
	assert.Equal(t, old.PublicKey, pub)

	_, err = f.keys.DecryptionKey(ctx, "someone-else", p.ID, 0)
	assert.ErrorIs(t, err, common.ErrNotOwner)
	assert.ErrorIs(t, err, common.ErrAuthorization)

	_, err = f.keys.DecryptionKey(ctx, p.ID, p.ID, 9)
	assert.ErrorIs(t, err, common.ErrEpochNotFound)
}

func TestDecryptionKey_WrappedKeyBoundToEpoch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.signup(t, "rae@example.com")
	_, err := f.keys.Rotate(ctx, p.ID)
	require.NoError(t, err)

	e0, err := f.keys.Epoch(ctx, p.ID, 0)
	require.NoError(t, err)
	e1, err := f.keys.Epoch(ctx, p.ID, 1)
	require.NoError(t, err)

	// swap the wrapped keys between rows: unwrap must refuse
	e1.PrivateKey = e0.PrivateKey
	f.mem.DropEpoch(p.ID, 1)
	require.NoError(t, f.repos.Epochs().Insert(ctx, e1))

	_, err = f.keys.DecryptionKey(ctx, p.ID, p.ID, 1)
	assert.ErrorIs(t, err, cryptox.ErrUnwrap)
}

func TestExportPublicKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.signup(t, "sam@example.com")

	pemText, err := f.keys.ExportPublicKey(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pemText, "-----BEGIN PUBLIC KEY-----"))

	_, err = f.keys.ExportPublicKey(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrEpochNotFound)
}

func TestUpdateSecuritySettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.signup(t, "tia@example.com")

	err := f.keys.UpdateSecuritySettings(ctx, p.ID, SecuritySettings{Algorithm: "kyber"})
	assert.ErrorIs(t, err, common.ErrUnsupportedAlgorithm)
	assert.Contains(t, err.Error(), "ed25519 x25519")
	assert.ErrorIs(t, f.keys.UpdateSecuritySettings(ctx, p.ID, SecuritySettings{RotationDays: -1}), common.ErrInvalidRotationDays)
	assert.ErrorIs(t, f.keys.UpdateSecuritySettings(ctx, "missing", SecuritySettings{}), common.ErrPrincipalNotFound)

	require.NoError(t, f.keys.UpdateSecuritySettings(ctx, p.ID, SecuritySettings{Algorithm: cryptox.AlgorithmEd25519, RotationDays: 30}))

	stored, err := f.creds.Principal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, cryptox.AlgorithmEd25519, stored.KeyAlgorithm)
	assert.Equal(t, 30, stored.RotationDays)

	// the active epoch keeps its algorithm until the next rotation
	current, err := f.keys.CurrentEpoch(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, cryptox.AlgorithmX25519, current.Algorithm)

	next, err := f.keys.Rotate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, cryptox.AlgorithmEd25519, next.Algorithm)

	pemText, err := f.keys.ExportPublicKey(ctx, p.ID)
	require.NoError(t, err)
	assert.Contains(t, pemText, "PUBLIC KEY")

	// empty algorithm keeps the current one
	require.NoError(t, f.keys.UpdateSecuritySettings(ctx, p.ID, SecuritySettings{RotationDays: 7}))
	stored, err = f.creds.Principal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, cryptox.AlgorithmEd25519, stored.KeyAlgorithm)
	assert.Equal(t, 7, stored.RotationDays)
}

func TestRotateDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.signup(t, "uma@example.com")
	fresh := f.signup(t, "vic@example.com")
	manual := f.signup(t, "wes@example.com")

	require.NoError(t, f.keys.UpdateSecuritySettings(ctx, due.ID, SecuritySettings{RotationDays: 1}))
	require.NoError(t, f.keys.UpdateSecuritySettings(ctx, fresh.ID, SecuritySettings{RotationDays: 30}))
	_ = manual

	f.clock.Advance(25 * time.Hour)
	report, err := f.keys.RotateDue(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, []string{due.ID}, report.Rotated)
	assert.Empty(t, report.Skipped)
	assert.Empty(t, report.Failed)

	current, err := f.keys.CurrentEpoch(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Epoch)

	// the new epoch is not yet due
	report, err = f.keys.RotateDue(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, report.Rotated)
}

func TestCurrentEpoch_StoreTimeoutIsTransient(t *testing.T) {
	f := newFixture(t)
	p := f.signup(t, "xia@example.com")

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.keys.CurrentEpoch(ctx, p.ID)
	assert.True(t, errors.Is(err, common.ErrTransient), "got %v", err)
}
