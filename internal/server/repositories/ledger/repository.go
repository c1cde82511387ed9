package ledger

import (
	"context"

	"github.com/dmitrijs2005/trustvault/internal/server/models"
)

// Repository persists ledger entries. Entries are append-only.
type Repository interface {
	// Lock takes the store-level append lock for the rest of the current
	// transaction. Outside a transaction it is a no-op.
	Lock(ctx context.Context) error
	// Last returns common.ErrEntryNotFound on an empty ledger.
	Last(ctx context.Context) (*models.LedgerEntry, error)
	// Append fails with common.ErrVersionConflict if the sequence is taken.
	Append(ctx context.Context, e *models.LedgerEntry) error
	Get(ctx context.Context, sequence int64) (*models.LedgerEntry, error)
	// Range returns the stored entries with from <= sequence <= to ascending.
	// Missing sequences are simply absent from the result.
	Range(ctx context.Context, from, to int64) ([]*models.LedgerEntry, error)
}
