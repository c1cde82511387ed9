// Package blobstore holds the content bytes referenced by vault records.
// Stores only move bytes; integrity is established by the ledger.
package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/google/uuid"
)

var ErrContentNotFound = fmt.Errorf("%w: content not found", common.ErrNotFound)

// ContentStore persists opaque blobs under caller-chosen locators.
type ContentStore interface {
	Put(ctx context.Context, locator string, data []byte) error
	// Get returns ErrContentNotFound for unknown locators.
	Get(ctx context.Context, locator string) ([]byte, error)
	// Delete is idempotent.
	Delete(ctx context.Context, locator string) error
	Close() error
}

// Presigner is implemented by stores that can hand out direct download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

// NewLocator returns a fresh, unguessable locator namespaced by owner and day.
func NewLocator(principalID string, now time.Time) string {
	return fmt.Sprintf("principals/%s/%d/%02d/%02d/%s",
		principalID, now.Year(), now.Month(), now.Day(), uuid.NewString())
}
