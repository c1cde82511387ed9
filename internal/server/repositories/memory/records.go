package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

type recordRepo struct{ v view }

func (r *recordRepo) Create(ctx context.Context, rec *models.VaultRecord) error {
	return r.v.write(ctx, func(s *state) error {
		if _, ok := s.records[rec.ID]; ok {
			return common.ErrVersionConflict
		}
		s.records[rec.ID] = rec.Clone()
		s.byOwner[rec.PrincipalID] = append(s.byOwner[rec.PrincipalID], rec.ID)
		return nil
	})
}

func (r *recordRepo) Get(ctx context.Context, id string) (*models.VaultRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := r.v.read().records[id]
	if !ok {
		return nil, common.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (r *recordRepo) ListByPrincipal(ctx context.Context, principalID string) ([]*models.VaultRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := r.v.read()
	var result []*models.VaultRecord
	for _, id := range s.byOwner[principalID] {
		if rec := s.records[id]; !rec.Removed() {
			result = append(result, rec.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *recordRepo) MarkRemoved(ctx context.Context, id string, at time.Time, tombstoneSequence int64) error {
	return r.v.write(ctx, func(s *state) error {
		rec, ok := s.records[id]
		if !ok || rec.Removed() {
			return common.ErrVersionConflict
		}
		c := rec.Clone()
		c.RemovedAt = &at
		c.TombstoneSequence = &tombstoneSequence
		s.records[id] = c
		return nil
	})
}
