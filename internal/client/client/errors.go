package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// mapError classifies an RPC failure into the shared sentinels. Only the
// classification happens here; retrying is the caller's business.
func (s *GRPCClient) mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", common.ErrNetwork, err)
		}
		return fmt.Errorf("rpc error: %w", err)
	}
	msg := st.Message()
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", common.ErrNetwork, msg)
	case codes.Canceled:
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", common.ErrNetwork, msg)
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrAuth, msg)
	case codes.Aborted, codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", common.ErrConflict, msg)
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrValidation, msg)
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, msg)
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", common.ErrCapacity, msg)
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
