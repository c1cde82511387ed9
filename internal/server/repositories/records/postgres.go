// Package records provides PostgreSQL-backed persistence for vault records.
package records

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

const selectColumns = `id, principal_id, title, category, locator, file_name, size,
	ledger_sequence, epoch, created_at, removed_at, tombstone_sequence`

func scanRecord(row interface{ Scan(...any) error }) (*models.VaultRecord, error) {
	r := &models.VaultRecord{}
	var (
		removed   sql.NullTime
		tombstone sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.PrincipalID, &r.Title, &r.Category, &r.Locator, &r.FileName, &r.Size,
		&r.LedgerSequence, &r.Epoch, &r.CreatedAt, &removed, &tombstone); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	if removed.Valid {
		t := removed.Time.UTC()
		r.RemovedAt = &t
	}
	if tombstone.Valid {
		s := tombstone.Int64
		r.TombstoneSequence = &s
	}
	return r, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.VaultRecord) error {
	query :=
		`INSERT INTO vault_records (id, principal_id, title, category, locator, file_name, size, ledger_sequence, epoch, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.PrincipalID, rec.Title, rec.Category, rec.Locator, rec.FileName, rec.Size,
		rec.LedgerSequence, rec.Epoch, rec.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return common.ErrVersionConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.VaultRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM vault_records WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrRecordNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListByPrincipal(ctx context.Context, principalID string) ([]*models.VaultRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM vault_records
		WHERE principal_id = $1 AND removed_at IS NULL
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.VaultRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) MarkRemoved(ctx context.Context, id string, at time.Time, tombstoneSequence int64) error {
	query :=
		`UPDATE vault_records SET removed_at = $2, tombstone_sequence = $3
		 WHERE id = $1 AND removed_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id, at, tombstoneSequence)
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
