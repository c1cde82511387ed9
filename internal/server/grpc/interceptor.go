package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const principalIDKey ctxKey = "principalID"

// publicMethods are served without a session.
var publicMethods = map[string]bool{
	methodName("Signup"):           true,
	methodName("Login"):            true,
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/List":  true,
}

// PrincipalID returns the principal authenticated by the access token
// interceptor.
func PrincipalID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalIDKey).(string)
	return id, ok && id != ""
}

func (s *Server) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if publicMethods[info.FullMethod] {
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

	session, err := s.svc.Sessions.VerifySession(ctx, accessToken)
	if err != nil {
		return nil, toStatus(err)
	}

	ctx = context.WithValue(ctx, principalIDKey, session.PrincipalID)
	// not every caller reaches us through a transport stream
	_ = grpc.SetHeader(ctx, metadata.Pairs(common.PrincipalIDHeaderName, session.PrincipalID))

	return handler(ctx, req)
}

func (s *Server) observeInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)

	s.metrics.RPC(info.FullMethod, code.String(), time.Since(start))
	if code == codes.Internal || code == codes.Unknown {
		s.logger.Error(ctx, "rpc failed", "method", info.FullMethod, "error", err)
	} else {
		s.logger.Debug(ctx, "rpc handled", "method", info.FullMethod, "code", code.String())
	}
	return resp, err
}
