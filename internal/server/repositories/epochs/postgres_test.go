package epochs

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresRepository(db), mock
}

var epochColumns = []string{"principal_id", "epoch", "algorithm", "public_key", "private_key", "created_at", "retired_at"}

const insertQ = `(?s)^INSERT\s+INTO\s+key_epochs\s*\(principal_id,\s*epoch,\s*algorithm,\s*public_key,\s*private_key,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)$`

func TestInsert_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(insertQ).
		WithArgs("p-1", int64(2), "x25519", []byte("pub"), []byte("wrapped"), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.KeyEpoch{
		PrincipalID: "p-1", Epoch: 2, Algorithm: "x25519",
		PublicKey: []byte("pub"), PrivateKey: cryptox.NewSecret([]byte("wrapped")), CreatedAt: now,
	})
	require.NoError(t, err)
}

func TestInsert_Conflict(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(insertQ).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "key_epochs_one_active"})

	err := repo.Insert(context.Background(), &models.KeyEpoch{PrincipalID: "p-1"})
	assert.ErrorIs(t, err, common.ErrVersionConflict)
}

func TestInsert_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(insertQ).WillReturnError(errors.New("db down"))

	err := repo.Insert(context.Background(), &models.KeyEpoch{PrincipalID: "p-1"})
	assert.ErrorContains(t, err, "db error: db down")
}

func TestActive_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+key_epochs\s+WHERE\s+principal_id\s*=\s*\$1\s+AND\s+retired_at\s+IS\s+NULL$`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(epochColumns).
			AddRow("p-1", int64(3), "x25519", []byte("pub"), []byte("wrapped"), created, nil))

	e, err := repo.Active(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Epoch)
	assert.True(t, e.Active())
	assert.Equal(t, []byte("wrapped"), e.PrivateKey.Bytes())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+key_epochs\s+WHERE\s+principal_id\s*=\s*\$1\s+AND\s+epoch\s*=\s*\$2$`).
		WithArgs("p-1", int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "p-1", 9)
	assert.ErrorIs(t, err, common.ErrEpochNotFound)
}

func TestList_Ascending(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	t0 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+key_epochs\s+WHERE\s+principal_id\s*=\s*\$1\s+ORDER\s+BY\s+epoch$`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(epochColumns).
			AddRow("p-1", int64(0), "x25519", []byte("a"), []byte("w0"), t0, t1).
			AddRow("p-1", int64(1), "x25519", []byte("b"), []byte("w1"), t1, nil))

	got, err := repo.List(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].RetiredAt)
	assert.True(t, t1.Equal(*got[0].RetiredAt))
	assert.True(t, got[1].Active())
}

func TestRetire(t *testing.T) {
	const q = `(?s)^UPDATE\s+key_epochs\s+SET\s+retired_at\s*=\s*\$3\s+WHERE\s+principal_id\s*=\s*\$1\s+AND\s+epoch\s*=\s*\$2\s+AND\s+retired_at\s+IS\s+NULL$`
	at := time.Now().UTC()

	t.Run("retired", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs("p-1", int64(0), at).WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.Retire(context.Background(), "p-1", 0, at))
	})

	t.Run("already retired", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs("p-1", int64(0), at).WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, repo.Retire(context.Background(), "p-1", 0, at), common.ErrVersionConflict)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WillReturnError(errors.New("boom"))
		assert.ErrorContains(t, repo.Retire(context.Background(), "p-1", 0, at), "db error")
	})
}
