package grpc

import (
	"context"
	"errors"
	"path"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/rpc"
	"github.com/dmitrijs2005/coachkeeper/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const OwnerIDKey ctxKey = "ownerID"

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(OwnerIDKey).(string)
	return owner
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if info.FullMethod == rpc.FullMethod(rpc.MethodPing) {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	ownerID, err := auth.GetOwnerIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, "token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	ctx = context.WithValue(ctx, OwnerIDKey, ownerID)
	ctx = logging.ContextWith(ctx, "owner", ownerID)

	return handler(ctx, req)
}

// loggingInterceptor tags ctx with the method and logs every call that
// did not succeed. Client mistakes are logged at Warn, the rest at Error.
func (s *GRPCServer) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := s.now()
	ctx = logging.ContextWith(ctx, "method", path.Base(info.FullMethod))

	resp, err := handler(ctx, req)
	if err == nil {
		return resp, nil
	}

	code := status.Code(err)
	args := []any{"code", code.String(), "duration", s.now().Sub(start), "error", err}
	switch code {
	case codes.Internal, codes.Unknown, codes.DataLoss:
		s.logger.Error(ctx, "request failed", args...)
	default:
		s.logger.Warn(ctx, "request rejected", args...)
	}
	return resp, err
}
