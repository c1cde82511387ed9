package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

type epochRepo struct{ v view }

func (r *epochRepo) Insert(ctx context.Context, e *models.KeyEpoch) error {
	return r.v.write(ctx, func(s *state) error {
		if _, ok := s.principals[e.PrincipalID]; !ok {
			return common.ErrPrincipalNotFound
		}
		list := s.epochs[e.PrincipalID]
		for _, x := range list {
			if x.Epoch == e.Epoch || (x.Active() && e.Active()) {
				return common.ErrVersionConflict
			}
		}
		s.epochs[e.PrincipalID] = append(list, e.Clone())
		return nil
	})
}

func (r *epochRepo) Active(ctx context.Context, principalID string) (*models.KeyEpoch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, e := r.v.read().activeEpoch(principalID)
	if e == nil {
		return nil, common.ErrEpochNotFound
	}
	return e.Clone(), nil
}

func (r *epochRepo) Get(ctx context.Context, principalID string, epoch int64) (*models.KeyEpoch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, e := range r.v.read().epochs[principalID] {
		if e.Epoch == epoch {
			return e.Clone(), nil
		}
	}
	return nil, common.ErrEpochNotFound
}

func (r *epochRepo) List(ctx context.Context, principalID string) ([]*models.KeyEpoch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list := r.v.read().epochs[principalID]
	result := make([]*models.KeyEpoch, 0, len(list))
	for _, e := range list {
		result = append(result, e.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Epoch < result[j].Epoch })
	return result, nil
}

func (r *epochRepo) Retire(ctx context.Context, principalID string, epoch int64, at time.Time) error {
	return r.v.write(ctx, func(s *state) error {
		list := s.epochs[principalID]
		for i, e := range list {
			if e.Epoch != epoch {
				continue
			}
			if !e.Active() {
				return common.ErrVersionConflict
			}
			c := e.Clone()
			c.RetiredAt = &at
			// copy before replacing: the backing array may be shared with
			// a published snapshot
			next := append([]*models.KeyEpoch(nil), list...)
			next[i] = c
			s.epochs[principalID] = next
			return nil
		}
		return common.ErrVersionConflict
	})
}
