package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"polyagents/internal/domain"
	"polyagents/internal/httpapi"
	"polyagents/internal/store"
)

// BacktestServiceName is the fully qualified gRPC service name.
const BacktestServiceName = "polyagents.Backtest"

// Full method names, for clients invoking the service without stubs.
const (
	MethodRun      = "/" + BacktestServiceName + "/Run"
	MethodGetRun   = "/" + BacktestServiceName + "/GetRun"
	MethodListRuns = "/" + BacktestServiceName + "/ListRuns"
)

// BacktestService exposes the backtester over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP
// API, so no generated code is needed.
type BacktestService struct {
	bt httpapi.Backtester
}

// NewBacktestService creates a BacktestService backed by bt.
func NewBacktestService(bt httpapi.Backtester) *BacktestService {
	return &BacktestService{bt: bt}
}

// Run executes a backtest. The request mirrors httpapi.RunRequest.
func (s *BacktestService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body httpapi.RunRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	req, err := body.ToRequest()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	run, err := s.bt.Run(ctx, req)
	if err != nil {
		if httpapi.IsClientError(err) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "backtest failed: %v", err)
	}
	return toStruct(run)
}

// GetRun returns a stored run. The request is {"id": "..."}.
func (s *BacktestService) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	run, err := s.bt.GetRun(ctx, id)
	if errors.Is(err, store.ErrRunNotFound) {
		return nil, status.Errorf(codes.NotFound, "run %s not found", id)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "loading run: %v", err)
	}
	return toStruct(run)
}

// ListRuns returns recent runs. The request is {"limit": n}; zero means 50.
func (s *BacktestService) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit := int(in.GetFields()["limit"].GetNumberValue())
	if limit <= 0 {
		limit = 50
	}
	runs, err := s.bt.ListRuns(ctx, limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "listing runs: %v", err)
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	return toStruct(httpapi.RunListResponse{Runs: runs})
}

// Register attaches the service to a gRPC server.
func (s *BacktestService) Register(gs *grpc.Server) {
	gs.RegisterService(&backtestServiceDesc, s)
}

type backtestServer interface {
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ backtestServer = (*BacktestService)(nil)

func unaryHandler(method string, call func(backtestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(backtestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(backtestServer), ctx, req.(*structpb.Struct))
		})
	}
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*backtestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler(MethodRun, backtestServer.Run)},
		{MethodName: "GetRun", Handler: unaryHandler(MethodGetRun, backtestServer.GetRun)},
		{MethodName: "ListRuns", Handler: unaryHandler(MethodListRuns, backtestServer.ListRuns)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "polyagents/backtest",
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(in *structpb.Struct, v any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("encoding struct: %w", err)
	}
	return json.Unmarshal(data, v)
}
