package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// mapError turns a service error into a gRPC status the client adapter
// understands. Unexpected failures are logged and hidden behind Internal.
func (s *GRPCServer) mapError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrCodec):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrAuth):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrUnavailable):
		return status.Error(codes.Unavailable, "temporarily unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error(ctx, "request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}
