package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"markethours/internal/domain"
	"markethours/internal/engine"
	"markethours/internal/oracle"
	"markethours/internal/pda"
	"markethours/internal/program"
	"markethours/internal/store"
	"markethours/internal/util"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "markethours.v1.Oracle"

// Method names.
const (
	MethodCreateOracle  = "CreateOracle"
	MethodCrankOracle   = "CrankOracle"
	MethodGetStatus     = "GetStatus"
	MethodGetClock      = "GetClock"
	MethodGetBalance    = "GetBalance"
	MethodAirdrop       = "Airdrop"
	MethodListReceipts  = "ListReceipts"
	MethodWatchReceipts = "WatchReceipts"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// ReceiptsRequest selects receipts by creation time.
type ReceiptsRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Limit int       `json:"limit"`
}

// BalanceRequest names an address.
type BalanceRequest struct {
	Address pda.Address `json:"address"`
}

// OracleService serves the oracle over gRPC. Messages are google.protobuf.Struct
// values carrying the same JSON documents as the REST API.
type OracleService struct {
	svc            *oracle.Service
	hub            *Hub
	allowAirdrop   bool
	airdropLimiter *util.RateLimiter
	log            *slog.Logger

	closeOnce sync.Once
	closing   chan struct{}
}

// NewOracleService creates an OracleService.
func NewOracleService(svc *oracle.Service, hub *Hub, allowAirdrop bool, airdropLimiter *util.RateLimiter, log *slog.Logger) *OracleService {
	return &OracleService{
		svc:            svc,
		hub:            hub,
		allowAirdrop:   allowAirdrop,
		airdropLimiter: airdropLimiter,
		log:            log,
		closing:        make(chan struct{}),
	}
}

// Close ends all receipt streams.
func (s *OracleService) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *OracleService) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&oracleServiceDesc, s)
}

// CreateOracle runs create_oracle.
func (s *OracleService) CreateOracle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CreateRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rc, err := s.svc.Create(ctx, req.Signer, req.Payer)
	return receiptReply(rc, err)
}

// CrankOracle runs crank_oracle.
func (s *OracleService) CrankOracle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CrankRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rc, err := s.svc.Crank(ctx, req.Signer)
	return receiptReply(rc, err)
}

// GetStatus returns the oracle status.
func (s *OracleService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.svc.Status(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(st)
}

// GetClock returns the market clock at the server's current time.
func (s *OracleService) GetClock(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	view, err := s.svc.Clock(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(view)
}

// GetBalance returns the lamports held at an address.
func (s *OracleService) GetBalance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req BalanceRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	lamports, err := s.svc.Balance(ctx, req.Address)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(BalanceResponse{Address: req.Address, Lamports: lamports})
}

// Airdrop credits an address when funding is enabled.
func (s *OracleService) Airdrop(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if !s.allowAirdrop {
		return nil, status.Error(codes.PermissionDenied, errAirdropDisabled.Error())
	}
	var req AirdropRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Lamports == 0 {
		return nil, status.Error(codes.InvalidArgument, "lamports must be positive")
	}
	if !s.airdropLimiter.Allow(req.Address.String()) {
		return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
	}
	rc, err := s.svc.Airdrop(ctx, req.Address, req.Lamports)
	return receiptReply(rc, err)
}

// ListReceipts returns receipts in a time range, newest first.
func (s *OracleService) ListReceipts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ReceiptsRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.End.IsZero() {
		req.End = time.Now().UTC()
	}
	if req.Start.IsZero() {
		req.Start = req.End.Add(-24 * time.Hour)
	}
	receipts, err := s.svc.Receipts(ctx, req.Start, req.End, req.Limit)
	if err != nil {
		return nil, grpcError(err)
	}
	if receipts == nil {
		receipts = []domain.Receipt{}
	}
	return toStruct(ReceiptsResponse{Receipts: receipts})
}

// WatchReceipts streams every receipt recorded after the call starts. The
// stream ends when the client disconnects.
func (s *OracleService) WatchReceipts(_ *emptypb.Empty, stream grpc.ServerStream) error {
	id, ch := s.hub.Subscribe(256)
	defer s.hub.Unsubscribe(id)
	s.log.Info("grpc client subscribed", "subID", id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", id)
			return nil
		case <-s.closing:
			return status.Error(codes.Unavailable, "server shutting down")
		case rc, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := toStruct(rc)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// receiptReply converts a call outcome. Failed calls carry the receipt ID in
// the status message.
func receiptReply(rc *domain.Receipt, err error) (*structpb.Struct, error) {
	if err != nil {
		if rc != nil {
			return nil, status.Error(grpcCode(err), fmt.Sprintf("receipt %s: %v", rc.ID, err))
		}
		return nil, grpcError(err)
	}
	return toStruct(rc)
}

func grpcError(err error) error {
	return status.Error(grpcCode(err), err.Error())
}

// grpcCode maps a service error to a gRPC status code.
func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, oracle.ErrNotInitialized),
		errors.Is(err, store.ErrAccountNotFound):
		return codes.NotFound
	case errors.Is(err, engine.ErrAccountInUse):
		return codes.AlreadyExists
	case errors.Is(err, engine.ErrMissingSignature),
		errors.Is(err, engine.ErrMissingAccount),
		errors.Is(err, engine.ErrUnknownInstruction):
		return codes.InvalidArgument
	case errors.Is(err, program.ErrSeedsMismatch),
		errors.Is(err, engine.ErrIllegalOwner),
		errors.Is(err, engine.ErrInvalidSeeds),
		errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, domain.ErrUnknownValidationVersion),
		errors.Is(err, domain.ErrNotOracleAccount):
		return codes.FailedPrecondition
	case errors.Is(err, engine.ErrClockUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encoding reply: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encoding reply: %v", err))
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encoding reply: %v", err))
	}
	return s, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

// oracleServer is the method set the descriptor dispatches to.
type oracleServer interface {
	CreateOracle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CrankOracle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetClock(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Airdrop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReceipts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchReceipts(*emptypb.Empty, grpc.ServerStream) error
}

var _ oracleServer = (*OracleService)(nil)

// unaryHandler builds a grpc.MethodHandler for a method taking Req.
func unaryHandler[Req any, PReq interface{ *Req }](name string, call func(oracleServer, context.Context, PReq) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(oracleServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(oracleServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchReceiptsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(oracleServer).WatchReceipts(in, stream)
}

var oracleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*oracleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodCreateOracle, Handler: unaryHandler[structpb.Struct](MethodCreateOracle, oracleServer.CreateOracle)},
		{MethodName: MethodCrankOracle, Handler: unaryHandler[structpb.Struct](MethodCrankOracle, oracleServer.CrankOracle)},
		{MethodName: MethodGetStatus, Handler: unaryHandler[emptypb.Empty](MethodGetStatus, oracleServer.GetStatus)},
		{MethodName: MethodGetClock, Handler: unaryHandler[emptypb.Empty](MethodGetClock, oracleServer.GetClock)},
		{MethodName: MethodGetBalance, Handler: unaryHandler[structpb.Struct](MethodGetBalance, oracleServer.GetBalance)},
		{MethodName: MethodAirdrop, Handler: unaryHandler[structpb.Struct](MethodAirdrop, oracleServer.Airdrop)},
		{MethodName: MethodListReceipts, Handler: unaryHandler[structpb.Struct](MethodListReceipts, oracleServer.ListReceipts)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: MethodWatchReceipts, Handler: watchReceiptsHandler, ServerStreams: true},
	},
	Metadata: "markethours/v1/oracle.proto",
}
