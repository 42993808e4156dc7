package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tally/internal/model"
	"tally/internal/repository"
	"tally/internal/service"
)

// Server exposes the ledger to internal callers and accepts bus events when the
// bus provider is gRPC. Every call must present the shared service token.
type Server struct {
	svc  service.LedgerService
	srv  *grpc.Server
	addr string
}

var (
	_ LedgerServer = (*Server)(nil)
	_ EventsServer = (*Server)(nil)
)

func NewServer(addr, token string, svc service.LedgerService) *Server {
	s := &Server{
		svc:  svc,
		addr: addr,
		srv: grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
			grpc.ChainUnaryInterceptor(ServiceTokenServerInterceptor(token)),
		),
	}
	s.srv.RegisterService(&ledgerServiceDesc, s)
	s.srv.RegisterService(&eventsServiceDesc, s)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "gRPC server listening", "addr", s.addr)
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.srv.GracefulStop()
	return nil
}

func (s *Server) Spend(ctx context.Context, req *SpendRequest) (*SpendResponse, error) {
	res, err := s.svc.Spend(ctx, model.SpendRequest{
		UserID:         req.UserID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &SpendResponse{NewBalance: res.NewBalance, Status: res.Status}, nil
}

func (s *Server) GetBalance(ctx context.Context, req *BalanceRequest) (*BalanceResponse, error) {
	bal, err := s.svc.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BalanceResponse{UserID: req.UserID, Balance: bal}, nil
}

// Publish receives events from a GrpcBus. Journal entries are projected directly;
// spend commands are executed.
func (s *Server) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	switch req.Topic {
	case repository.TopicLedgerEntries:
		entry, err := repository.DecodeEntry(req.Payload)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if err := s.svc.SyncLedgerEntry(ctx, entry); err != nil {
			return nil, toStatus(err)
		}
	case repository.TopicSpendCommands:
		var cmd model.SpendRequest
		if err := json.Unmarshal(req.Payload, &cmd); err != nil {
			return nil, status.Error(codes.InvalidArgument, "malformed spend command")
		}
		if _, err := s.svc.Spend(ctx, cmd); err != nil {
			return nil, toStatus(err)
		}
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown topic %q", req.Topic)
	}
	return &EventResponse{Success: true}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, model.ErrInsufficientBalance):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		slog.Error("grpc request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}
