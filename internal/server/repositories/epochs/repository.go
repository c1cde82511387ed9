package epochs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

// Repository persists key epochs. Rows are only ever inserted or retired.
type Repository interface {
	// Insert fails with common.ErrVersionConflict when the epoch number is
	// taken or the principal already has an active epoch.
	Insert(ctx context.Context, e *models.KeyEpoch) error
	// Active returns common.ErrEpochNotFound if no epoch is active.
	Active(ctx context.Context, principalID string) (*models.KeyEpoch, error)
	Get(ctx context.Context, principalID string, epoch int64) (*models.KeyEpoch, error)
	// List returns every epoch ascending.
	List(ctx context.Context, principalID string) ([]*models.KeyEpoch, error)
	// Retire sets RetiredAt only if epoch is still active, otherwise it
	// returns common.ErrVersionConflict.
	Retire(ctx context.Context, principalID string, epoch int64, at time.Time) error
}
