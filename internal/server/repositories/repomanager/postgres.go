package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/trustvault/internal/dbx"
	"github.com/dmitrijs2005/trustvault/internal/logging"
	"github.com/dmitrijs2005/trustvault/internal/server/migrations"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/epochs"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/principals"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/records"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories and exposes
// a schema migration hook.
type PostgresRepositoryManager struct {
	db *sql.DB
	// txOptions applies to every WithTx call.
	txOptions *sql.TxOptions
}

func NewPostgresRepositoryManager(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db, txOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
}

type pgRepos struct {
	db dbx.DBTX
}

func (r pgRepos) Principals() principals.Repository { return principals.NewPostgresRepository(r.db) }
func (r pgRepos) Epochs() epochs.Repository         { return epochs.NewPostgresRepository(r.db) }
func (r pgRepos) Ledger() ledger.Repository         { return ledger.NewPostgresRepository(r.db) }
func (r pgRepos) Records() records.Repository       { return records.NewPostgresRepository(r.db) }

func (m *PostgresRepositoryManager) Principals() principals.Repository {
	return pgRepos{db: m.db}.Principals()
}

func (m *PostgresRepositoryManager) Epochs() epochs.Repository {
	return pgRepos{db: m.db}.Epochs()
}

func (m *PostgresRepositoryManager) Ledger() ledger.Repository {
	return pgRepos{db: m.db}.Ledger()
}

func (m *PostgresRepositoryManager) Records() records.Repository {
	return pgRepos{db: m.db}.Records()
}

// WithTx runs fn inside one database transaction.
func (m *PostgresRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	return dbx.WithTx(ctx, m.db, m.txOptions, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, pgRepos{db: tx})
	})
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// connectBackoff bounds how long OpenPostgres keeps retrying.
var connectBackoff = func(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      time.Minute,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
}

// OpenPostgres opens a pgx-backed *sql.DB and waits until the server answers
// a ping, retrying with exponential backoff.
func OpenPostgres(ctx context.Context, dsn string, log logging.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pctx)
	}
	notify := func(err error, next time.Duration) {
		log.Warn(ctx, "database not ready, retrying", "error", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(ping, connectBackoff(ctx), notify); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}
