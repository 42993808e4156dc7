package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ledgerServiceName = "tally.v1.Ledger"
	eventsServiceName = "tally.v1.Events"

	SpendMethod      = "/" + ledgerServiceName + "/Spend"
	GetBalanceMethod = "/" + ledgerServiceName + "/GetBalance"
	PublishMethod    = "/" + eventsServiceName + "/Publish"
)

type LedgerServer interface {
	Spend(ctx context.Context, req *SpendRequest) (*SpendResponse, error)
	GetBalance(ctx context.Context, req *BalanceRequest) (*BalanceResponse, error)
}

type EventsServer interface {
	Publish(ctx context.Context, req *EventRequest) (*EventResponse, error)
}

// unary adapts a typed method to grpc's method handler signature.
func unary[Req any, Res any](fullMethod string, call func(srv any, ctx context.Context, req *Req) (*Res, error)) grpc.MethodDesc {
	_, name := splitMethod(fullMethod)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func splitMethod(fullMethod string) (service, method string) {
	for i := len(fullMethod) - 1; i >= 0; i-- {
		if fullMethod[i] == '/' {
			return fullMethod[1:i], fullMethod[i+1:]
		}
	}
	return "", fullMethod
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SpendMethod, func(srv any, ctx context.Context, req *SpendRequest) (*SpendResponse, error) {
			return srv.(LedgerServer).Spend(ctx, req)
		}),
		unary(GetBalanceMethod, func(srv any, ctx context.Context, req *BalanceRequest) (*BalanceResponse, error) {
			return srv.(LedgerServer).GetBalance(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tally/v1/ledger.proto",
}

var eventsServiceDesc = grpc.ServiceDesc{
	ServiceName: eventsServiceName,
	HandlerType: (*EventsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(PublishMethod, func(srv any, ctx context.Context, req *EventRequest) (*EventResponse, error) {
			return srv.(EventsServer).Publish(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tally/v1/ledger.proto",
}
