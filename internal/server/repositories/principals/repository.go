package principals

import (
	"context"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

// Repository persists principals. Principals are never deleted.
type Repository interface {
	// Create fails with common.ErrDuplicateIdentity when Identity is taken.
	Create(ctx context.Context, p *models.Principal) error
	GetByID(ctx context.Context, id string) (*models.Principal, error)
	GetByIdentity(ctx context.Context, identity string) (*models.Principal, error)
	TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdateSecuritySettings(ctx context.Context, id, algorithm string, rotationDays int) error
	// ListRotating returns active principals with a positive RotationDays.
	ListRotating(ctx context.Context) ([]*models.Principal, error)
}
