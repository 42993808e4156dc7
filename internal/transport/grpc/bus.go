package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const publishTimeout = 5 * time.Second

// GrpcBus publishes events to a remote Events service over gRPC.
// Used when BusProvider == "grpc" in config.
type GrpcBus struct {
	conn *grpc.ClientConn
}

func NewGrpcBus(conn *grpc.ClientConn) *GrpcBus {
	return &GrpcBus{conn: conn}
}

// NewGrpcBusFromAddr dials the remote Events service and returns a GrpcBus and a cleanup function.
// token is sent with every call and must match the remote server's.
func NewGrpcBusFromAddr(addr, token string) (*GrpcBus, func(), error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(ServiceTokenClientInterceptor(token)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("dial grpc bus %s: %w", addr, err)
	}
	cleanup := func() { _ = conn.Close() }
	return NewGrpcBus(conn), cleanup, nil
}

func (b *GrpcBus) Publish(topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	var res EventResponse
	err := b.conn.Invoke(ctx, PublishMethod, &EventRequest{Topic: topic, Payload: data}, &res,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return fmt.Errorf("grpc publish %s: %w", topic, err)
	}
	if !res.Success {
		return fmt.Errorf("grpc publish %s: rejected", topic)
	}
	return nil
}
