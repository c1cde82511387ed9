package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/trustvault/internal/server/repositories/epochs"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/principals"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/records"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/repomanager"
)

// Manager implements repomanager.RepositoryManager in memory. Writers are
// serialized; each WithTx is atomic and isolated.
type Manager struct {
	mu    sync.Mutex
	state atomic.Pointer[state]
}

var _ repomanager.RepositoryManager = (*Manager)(nil)

func NewManager() *Manager {
	m := &Manager{}
	m.state.Store(newState())
	return m
}

// view binds the repositories to a state source. Outside a transaction every
// read loads the latest snapshot and every write is its own transaction.
type view struct {
	read  func() *state
	write func(ctx context.Context, fn func(s *state) error) error
}

func (v view) Principals() principals.Repository { return &principalRepo{v} }
func (v view) Epochs() epochs.Repository         { return &epochRepo{v} }
func (v view) Ledger() ledger.Repository         { return &ledgerRepo{v} }
func (v view) Records() records.Repository       { return &recordRepo{v} }

func (m *Manager) auto() view {
	return view{
		read: m.state.Load,
		write: func(ctx context.Context, fn func(s *state) error) error {
			return m.update(ctx, fn)
		},
	}
}

func (m *Manager) Principals() principals.Repository { return m.auto().Principals() }
func (m *Manager) Epochs() epochs.Repository         { return m.auto().Epochs() }
func (m *Manager) Ledger() ledger.Repository         { return m.auto().Ledger() }
func (m *Manager) Records() records.Repository       { return m.auto().Records() }

func (m *Manager) update(ctx context.Context, fn func(s *state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	next := m.state.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	m.state.Store(next)
	return nil
}

// WithTx holds the writer lock for the duration of fn, so the in-tx
// repositories must not call back into the Manager's own repositories.
func (m *Manager) WithTx(ctx context.Context, fn func(ctx context.Context, r repomanager.Repositories) error) error {
	return m.update(ctx, func(work *state) error {
		v := view{
			read: func() *state { return work },
			write: func(ctx context.Context, apply func(s *state) error) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return apply(work)
			},
		}
		return fn(ctx, v)
	})
}

func (m *Manager) RunMigrations(context.Context) error { return nil }

func (m *Manager) Close() error { return nil }
