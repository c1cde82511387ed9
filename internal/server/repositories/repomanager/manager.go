// Package repomanager groups the vault repositories behind one handle with
// transaction support, so services stay agnostic of the storage backend.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/trustvault/internal/server/repositories/epochs"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/principals"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/records"
)

// Repositories is a set of repositories bound to one connection or
// transaction.
type Repositories interface {
	Principals() principals.Repository
	Epochs() epochs.Repository
	Ledger() ledger.Repository
	Records() records.Repository
}

// RepositoryManager vends repositories outside a transaction and runs
// functions atomically via WithTx. Repositories passed to fn must not be
// used after fn returns.
type RepositoryManager interface {
	Repositories
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
	RunMigrations(ctx context.Context) error
	Close() error
}
