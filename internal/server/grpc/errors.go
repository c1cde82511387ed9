package grpc

import (
	"errors"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStatus maps a service error to a gRPC status. Integrity violations carry
// the tampered range as a structpb.Struct detail; internal errors are not
// echoed to the caller.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch common.KindOf(err) {
	case common.ErrIntegrityViolation:
		st := status.New(codes.DataLoss, err.Error())
		var te *common.TamperedError
		if errors.As(err, &te) {
			detail, derr := structpb.NewStruct(map[string]any{
				"sequence": te.Sequence,
				"through":  te.Through,
				"reason":   te.Reason,
			})
			if derr == nil {
				if withDetail, werr := st.WithDetails(detail); werr == nil {
					st = withDetail
				}
			}
		}
		return st.Err()
	case common.ErrAuthentication:
		return status.Error(codes.Unauthenticated, err.Error())
	case common.ErrAuthorization:
		return status.Error(codes.PermissionDenied, err.Error())
	case common.ErrConflict:
		if errors.Is(err, common.ErrDuplicateIdentity) {
			return status.Error(codes.AlreadyExists, err.Error())
		}
		return status.Error(codes.Aborted, err.Error())
	case common.ErrTransient:
		return status.Error(codes.Unavailable, err.Error())
	case common.ErrNotFound:
		return status.Error(codes.NotFound, err.Error())
	case common.ErrValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// TamperDetail extracts the tampered range from a status produced by
// toStatus.
func TamperDetail(err error) (*common.TamperedError, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.DataLoss {
		return nil, false
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		f := s.GetFields()
		return &common.TamperedError{
			Sequence: int64(f["sequence"].GetNumberValue()),
			Through:  int64(f["through"].GetNumberValue()),
			Reason:   f["reason"].GetStringValue(),
		}, true
	}
	return nil, false
}
