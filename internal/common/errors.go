// Package common defines shared constants and sentinel errors used across
// the vault layers. Errors are grouped into kinds; every specific error wraps
// exactly one kind, so callers can match either with errors.Is:
//
//	errors.Is(err, common.ErrDuplicateIdentity) // specific
//	errors.Is(err, common.ErrConflict)          // kind
package common

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrAuthentication     = errors.New("authentication failure")
	ErrAuthorization      = errors.New("authorization failure")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrConflict           = errors.New("conflict")
	ErrTransient          = errors.New("transient failure")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrorInternal         = errors.New("internal error")
)

// Credential and session errors.
var (
	ErrInvalidCredentials      = fmt.Errorf("%w: invalid identity or secret", ErrAuthentication)
	ErrPrincipalDeactivated    = fmt.Errorf("%w: principal deactivated", ErrAuthentication)
	ErrPrincipalNotFound       = fmt.Errorf("%w: principal not found", ErrNotFound)
	ErrMalformedSession        = fmt.Errorf("%w: malformed session token", ErrAuthentication)
	ErrSessionSignatureInvalid = fmt.Errorf("%w: invalid session signature", ErrAuthentication)
	ErrSessionExpired          = fmt.Errorf("%w: session expired", ErrAuthentication)
	ErrSessionStale            = fmt.Errorf("%w: session issued under a retired key epoch", ErrAuthentication)
	ErrSessionPrincipalUnknown = fmt.Errorf("%w: session principal no longer exists", ErrAuthentication)

	ErrDuplicateIdentity     = fmt.Errorf("%w: identity already registered", ErrConflict)
	ErrWeakSecret            = fmt.Errorf("%w: secret too weak", ErrValidation)
	ErrInvalidIdentityFormat = fmt.Errorf("%w: invalid identity format", ErrValidation)
	ErrInvalidDisplayName    = fmt.Errorf("%w: display name is required", ErrValidation)
)

// Key lifecycle errors.
var (
	ErrRotationInProgress   = fmt.Errorf("%w: rotation in progress", ErrConflict)
	ErrEpochExists          = fmt.Errorf("%w: key epochs already initialized", ErrConflict)
	ErrEpochNotFound        = fmt.Errorf("%w: key epoch not found", ErrNotFound)
	ErrUnsupportedAlgorithm = fmt.Errorf("%w: unsupported key algorithm", ErrValidation)
	ErrInvalidRotationDays  = fmt.Errorf("%w: rotation days must not be negative", ErrValidation)
)

// Ledger and vault errors.
var (
	ErrInvalidRange   = fmt.Errorf("%w: invalid ledger range", ErrValidation)
	ErrEntryNotFound  = fmt.Errorf("%w: ledger entry not found", ErrNotFound)
	ErrRecordNotFound = fmt.Errorf("%w: record not found", ErrNotFound)
	ErrRecordRemoved  = fmt.Errorf("%w: record removed", ErrNotFound)
	ErrNotOwner       = fmt.Errorf("%w: principal does not own the resource", ErrAuthorization)
	ErrEmptyContent   = fmt.Errorf("%w: content is empty", ErrValidation)
	ErrInvalidDigest  = fmt.Errorf("%w: content digest has the wrong size", ErrValidation)

	ErrPresignUnsupported = fmt.Errorf("%w: content store does not issue download urls", ErrValidation)

	// ErrVersionConflict is returned by repositories when a compare-and-swap
	// update matched no row.
	ErrVersionConflict = fmt.Errorf("%w: version conflict", ErrConflict)
)

// TamperedError reports the first ledger sequence whose stored state no
// longer matches its recomputed hash. Every entry from Sequence through
// Through is untrusted.
type TamperedError struct {
	Sequence int64
	Through  int64
	Reason   string
}

func (e *TamperedError) Error() string {
	return fmt.Sprintf("ledger tampered at sequence %d (untrusted through %d): %s", e.Sequence, e.Through, e.Reason)
}

func (e *TamperedError) Unwrap() error { return ErrIntegrityViolation }

// KindOf returns the error kind err belongs to, or ErrorInternal when err
// matches none of them. Integrity is checked first: it must never be masked.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range []error{
		ErrIntegrityViolation,
		ErrAuthentication,
		ErrAuthorization,
		ErrConflict,
		ErrTransient,
		ErrNotFound,
		ErrValidation,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrorInternal
}

// Transient marks err as a retryable backing-store failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
