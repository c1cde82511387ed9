// Package services contains the server-side trust logic: credentials, key
// epochs, the integrity ledger and the record vault. Services receive their
// storage through repomanager.RepositoryManager and never reach for globals.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
)

// storePrecision is the timestamp resolution every backend can round-trip.
const storePrecision = time.Microsecond

// boundedContext limits a store round-trip to timeout. A non-positive timeout
// leaves ctx unbounded.
func boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// storeError annotates err with op. Deadline overruns become transient
// failures so callers can retry instead of treating them as a verdict.
func storeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return common.Transient(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// outcome is the metrics label for err.
func outcome(err error) string {
	switch common.KindOf(err) {
	case nil:
		return "ok"
	case common.ErrAuthentication:
		return "authentication"
	case common.ErrAuthorization:
		return "authorization"
	case common.ErrIntegrityViolation:
		return "integrity"
	case common.ErrConflict:
		return "conflict"
	case common.ErrTransient:
		return "transient"
	case common.ErrNotFound:
		return "not_found"
	case common.ErrValidation:
		return "validation"
	default:
		return "internal"
	}
}
