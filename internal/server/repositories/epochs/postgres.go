// Package epochs provides PostgreSQL-backed persistence for key epochs.
package epochs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/dbx"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `principal_id, epoch, algorithm, public_key, private_key, created_at, retired_at`

func scanEpoch(row interface{ Scan(...any) error }) (*models.KeyEpoch, error) {
	e := &models.KeyEpoch{}
	var retired sql.NullTime
	if err := row.Scan(&e.PrincipalID, &e.Epoch, &e.Algorithm, &e.PublicKey, &e.PrivateKey,
		&e.CreatedAt, &retired); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if retired.Valid {
		t := retired.Time.UTC()
		e.RetiredAt = &t
	}
	return e, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.KeyEpoch) error {
	query :=
		`INSERT INTO key_epochs (principal_id, epoch, algorithm, public_key, private_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		e.PrincipalID, e.Epoch, e.Algorithm, e.PublicKey, e.PrivateKey, e.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return common.ErrVersionConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Active(ctx context.Context, principalID string) (*models.KeyEpoch, error) {
	query := `SELECT ` + selectColumns + ` FROM key_epochs
		WHERE principal_id = $1 AND retired_at IS NULL`
	return r.getOne(ctx, query, principalID)
}

func (r *PostgresRepository) Get(ctx context.Context, principalID string, epoch int64) (*models.KeyEpoch, error) {
	query := `SELECT ` + selectColumns + ` FROM key_epochs
		WHERE principal_id = $1 AND epoch = $2`
	return r.getOne(ctx, query, principalID, epoch)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.KeyEpoch, error) {
	e, err := scanEpoch(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrEpochNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) List(ctx context.Context, principalID string) ([]*models.KeyEpoch, error) {
	query := `SELECT ` + selectColumns + ` FROM key_epochs
		WHERE principal_id = $1 ORDER BY epoch`

	rows, err := r.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.KeyEpoch
	for rows.Next() {
		e, err := scanEpoch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Retire(ctx context.Context, principalID string, epoch int64, at time.Time) error {
	query :=
		`UPDATE key_epochs SET retired_at = $3
		 WHERE principal_id = $1 AND epoch = $2 AND retired_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, principalID, epoch, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
