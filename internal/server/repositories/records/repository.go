package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

// Repository persists vault records. Removal is a soft, one-way transition.
type Repository interface {
	Create(ctx context.Context, r *models.VaultRecord) error
	// Get returns common.ErrRecordNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.VaultRecord, error)
	// ListByPrincipal returns the principal's records that are not removed,
	// oldest first.
	ListByPrincipal(ctx context.Context, principalID string) ([]*models.VaultRecord, error)
	// MarkRemoved fails with common.ErrVersionConflict if the record is
	// already removed.
	MarkRemoved(ctx context.Context, id string, at time.Time, tombstoneSequence int64) error
}
