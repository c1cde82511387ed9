package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"duplicate identity", ErrDuplicateIdentity, ErrConflict},
		{"rotation in progress wrapped", fmt.Errorf("rotate: %w", ErrRotationInProgress), ErrConflict},
		{"bad credentials", ErrInvalidCredentials, ErrAuthentication},
		{"not owner", ErrNotOwner, ErrAuthorization},
		{"tampered", &TamperedError{Sequence: 3, Through: 7}, ErrIntegrityViolation},
		{"transient", Transient(context.DeadlineExceeded), ErrTransient},
		{"record removed", ErrRecordRemoved, ErrNotFound},
		{"weak secret", ErrWeakSecret, ErrValidation},
		{"unknown", errors.New("boom"), ErrorInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestTamperedError_AsAndMessage(t *testing.T) {
	err := fmt.Errorf("verify: %w", &TamperedError{Sequence: 2, Through: 5, Reason: "hash mismatch"})

	var te *TamperedError
	if assert.True(t, errors.As(err, &te)) {
		assert.Equal(t, int64(2), te.Sequence)
		assert.Equal(t, int64(5), te.Through)
	}
	assert.True(t, errors.Is(err, ErrIntegrityViolation))
	assert.Contains(t, err.Error(), "sequence 2")
}
