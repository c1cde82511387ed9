package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

type principalRepo struct{ v view }

func (r *principalRepo) Create(ctx context.Context, p *models.Principal) error {
	return r.v.write(ctx, func(s *state) error {
		if _, ok := s.identities[p.Identity]; ok {
			return common.ErrDuplicateIdentity
		}
		if _, ok := s.principals[p.ID]; ok {
			return common.ErrVersionConflict
		}
		s.principals[p.ID] = p.Clone()
		s.identities[p.Identity] = p.ID
		return nil
	})
}

func (r *principalRepo) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := r.v.read().principals[id]
	if !ok {
		return nil, common.ErrPrincipalNotFound
	}
	return p.Clone(), nil
}

func (r *principalRepo) GetByIdentity(ctx context.Context, identity string) (*models.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := r.v.read()
	id, ok := s.identities[identity]
	if !ok {
		return nil, common.ErrPrincipalNotFound
	}
	return s.principals[id].Clone(), nil
}

func (r *principalRepo) modify(ctx context.Context, id string, fn func(p *models.Principal)) error {
	return r.v.write(ctx, func(s *state) error {
		p, ok := s.principals[id]
		if !ok {
			return common.ErrPrincipalNotFound
		}
		c := p.Clone()
		fn(c)
		s.principals[id] = c
		return nil
	})
}

func (r *principalRepo) TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error {
	return r.modify(ctx, id, func(p *models.Principal) { p.LastAuthenticatedAt = &at })
}

func (r *principalRepo) SetActive(ctx context.Context, id string, active bool) error {
	return r.modify(ctx, id, func(p *models.Principal) { p.IsActive = active })
}

func (r *principalRepo) UpdateSecuritySettings(ctx context.Context, id, algorithm string, rotationDays int) error {
	return r.modify(ctx, id, func(p *models.Principal) {
		p.KeyAlgorithm = algorithm
		p.RotationDays = rotationDays
	})
}

func (r *principalRepo) ListRotating(ctx context.Context) ([]*models.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []*models.Principal
	for _, p := range r.v.read().principals {
		if p.IsActive && p.RotationDays > 0 {
			result = append(result, p.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
