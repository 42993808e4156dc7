package grpc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ServiceTokenHeader carries the shared secret between ledger instances.
const ServiceTokenHeader = "x-tally-service-token"

// withServiceToken returns a context whose outgoing metadata carries token.
func withServiceToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, ServiceTokenHeader, token)
}

// ServiceTokenClientInterceptor attaches the shared secret to every unary call.
func ServiceTokenClientInterceptor(token string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req any,
		reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		return invoker(withServiceToken(ctx, token), method, req, reply, cc, opts...)
	}
}

// ServiceTokenServerInterceptor rejects calls that do not present token.
func ServiceTokenServerInterceptor(token string) grpc.UnaryServerInterceptor {
	want := []byte(token)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing service token")
		}
		values := md.Get(ServiceTokenHeader)
		if len(values) == 0 || len(want) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing service token")
		}
		if subtle.ConstantTimeCompare([]byte(values[0]), want) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid service token")
		}
		return handler(ctx, req)
	}
}
