package grpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"authentication", common.ErrSessionExpired, codes.Unauthenticated},
		{"authorization", common.ErrNotOwner, codes.PermissionDenied},
		{"duplicate identity", fmt.Errorf("register: %w", common.ErrDuplicateIdentity), codes.AlreadyExists},
		{"rotation conflict", common.ErrRotationInProgress, codes.Aborted},
		{"transient", common.Transient(errors.New("db down")), codes.Unavailable},
		{"not found", common.ErrRecordNotFound, codes.NotFound},
		{"validation", common.ErrEmptyContent, codes.InvalidArgument},
		{"unclassified", errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(toStatus(tt.err)))
		})
	}

	assert.NoError(t, toStatus(nil))
	assert.Equal(t, "internal error", status.Convert(toStatus(errors.New("secret detail"))).Message())

	passthrough := status.Error(codes.ResourceExhausted, "slow down")
	assert.Equal(t, passthrough, toStatus(passthrough))
}

func TestToStatus_TamperDetail(t *testing.T) {
	err := toStatus(fmt.Errorf("verify: %w", &common.TamperedError{Sequence: 3, Through: 9, Reason: "hash mismatch"}))
	require.Equal(t, codes.DataLoss, status.Code(err))

	te, ok := TamperDetail(err)
	require.True(t, ok)
	assert.Equal(t, int64(3), te.Sequence)
	assert.Equal(t, int64(9), te.Through)
	assert.Equal(t, "hash mismatch", te.Reason)

	_, ok = TamperDetail(status.Error(codes.NotFound, "nope"))
	assert.False(t, ok)
}
