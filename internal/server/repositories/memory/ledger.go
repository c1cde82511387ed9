package memory

import (
	"context"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

type ledgerRepo struct{ v view }

// Lock is a no-op: writers already hold the manager lock.
func (r *ledgerRepo) Lock(ctx context.Context) error { return ctx.Err() }

func (r *ledgerRepo) Last(ctx context.Context) (*models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := r.v.read().ledger
	if len(l) == 0 {
		return nil, common.ErrEntryNotFound
	}
	return l[len(l)-1].Clone(), nil
}

func (r *ledgerRepo) Append(ctx context.Context, e *models.LedgerEntry) error {
	return r.v.write(ctx, func(s *state) error {
		if n := len(s.ledger); n > 0 && s.ledger[n-1].Sequence >= e.Sequence {
			return common.ErrVersionConflict
		}
		s.ledger = append(s.ledger, e.Clone())
		return nil
	})
}

func (r *ledgerRepo) Get(ctx context.Context, sequence int64) (*models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := r.v.read()
	i := s.ledgerIndex(sequence)
	if i < 0 {
		return nil, common.ErrEntryNotFound
	}
	return s.ledger[i].Clone(), nil
}

func (r *ledgerRepo) Range(ctx context.Context, from, to int64) ([]*models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := r.v.read()
	var result []*models.LedgerEntry
	for _, e := range s.ledger[s.ledgerFirst(from):] {
		if e.Sequence > to {
			break
		}
		result = append(result, e.Clone())
	}
	return result, nil
}
