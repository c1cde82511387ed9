// Package principals provides PostgreSQL-backed persistence for principals.
package principals

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

const identityConstraint = "principals_identity_key"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, display_name, identity, secret_hash, is_active,
	last_authenticated_at, created_at, key_algorithm, rotation_days`

func scanPrincipal(row interface{ Scan(...any) error }) (*models.Principal, error) {
	p := &models.Principal{}
	var last sql.NullTime
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Identity, &p.SecretHash, &p.IsActive,
		&last, &p.CreatedAt, &p.KeyAlgorithm, &p.RotationDays); err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time.UTC()
		p.LastAuthenticatedAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.Principal) error {
	query :=
		`INSERT INTO principals (id, display_name, identity, secret_hash, is_active, created_at, key_algorithm, rotation_days)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.DisplayName, p.Identity, p.SecretHash, p.IsActive, p.CreatedAt, p.KeyAlgorithm, p.RotationDays)
	if err != nil {
		if dbx.IsUniqueViolation(err, identityConstraint) {
			return common.ErrDuplicateIdentity
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	query := `SELECT ` + selectColumns + ` FROM principals WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetByIdentity(ctx context.Context, identity string) (*models.Principal, error) {
	query := `SELECT ` + selectColumns + ` FROM principals WHERE identity = $1`
	return r.getOne(ctx, query, identity)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Principal, error) {
	p, err := scanPrincipal(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, `UPDATE principals SET last_authenticated_at = $2 WHERE id = $1`, id, at)
}

func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.execOne(ctx, `UPDATE principals SET is_active = $2 WHERE id = $1`, id, active)
}

func (r *PostgresRepository) UpdateSecuritySettings(ctx context.Context, id, algorithm string, rotationDays int) error {
	return r.execOne(ctx,
		`UPDATE principals SET key_algorithm = $2, rotation_days = $3 WHERE id = $1`,
		id, algorithm, rotationDays)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrPrincipalNotFound
	}
	return nil
}

func (r *PostgresRepository) ListRotating(ctx context.Context) ([]*models.Principal, error) {
	query := `SELECT ` + selectColumns + ` FROM principals
		WHERE is_active AND rotation_days > 0
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
