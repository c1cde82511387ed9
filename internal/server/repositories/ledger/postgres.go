// Package ledger provides PostgreSQL-backed persistence for the integrity
// ledger.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/dbx"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

// appendLockKey identifies the ledger append lock among advisory locks.
const appendLockKey int64 = 0x6c6564676572

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `sequence, kind, content_digest, previous_hash, principal_id, epoch, recorded_at, hash`

func scanEntry(row interface{ Scan(...any) error }) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	var kind string
	if err := row.Scan(&e.Sequence, &kind, &e.ContentDigest, &e.PreviousHash, &e.PrincipalID,
		&e.Epoch, &e.Timestamp, &e.Hash); err != nil {
		return nil, err
	}
	e.Kind = models.EntryKind(kind)
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

func (r *PostgresRepository) Lock(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Last(ctx context.Context) (*models.LedgerEntry, error) {
	query := `SELECT ` + selectColumns + ` FROM ledger_entries ORDER BY sequence DESC LIMIT 1`
	return r.getOne(ctx, query)
}

func (r *PostgresRepository) Get(ctx context.Context, sequence int64) (*models.LedgerEntry, error) {
	query := `SELECT ` + selectColumns + ` FROM ledger_entries WHERE sequence = $1`
	return r.getOne(ctx, query, sequence)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrEntryNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) Append(ctx context.Context, e *models.LedgerEntry) error {
	query :=
		`INSERT INTO ledger_entries (sequence, kind, content_digest, previous_hash, principal_id, epoch, recorded_at, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		e.Sequence, string(e.Kind), e.ContentDigest, e.PreviousHash, e.PrincipalID, e.Epoch, e.Timestamp, e.Hash)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return common.ErrVersionConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Range(ctx context.Context, from, to int64) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + selectColumns + ` FROM ledger_entries
		WHERE sequence BETWEEN $1 AND $2 ORDER BY sequence`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.LedgerEntry, 0, min(to-from+1, 1024))
	for rows.Next() {
		e, err := scanEntry(rows)
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
