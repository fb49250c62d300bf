package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InterpreterServer is the gRPC service interface.
type InterpreterServer interface {
	Run(context.Context, *RunRequest) (*RunResponse, error)
	Check(context.Context, *CheckRequest) (*CheckResponse, error)
}

// interpreterServiceDesc describes the service for grpc.Server. Messages
// travel with the "cbor" content-subtype; there is no protobuf schema.
var interpreterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InterpreterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "Check", Handler: checkHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "whiteplanes/v1/interpreter",
}

// RegisterInterpreterServer registers srv on a gRPC server.
func RegisterInterpreterServer(s grpc.ServiceRegistrar, srv InterpreterServer) {
	s.RegisterService(&interpreterServiceDesc, srv)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InterpreterServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunProcedure}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InterpreterServer).Run(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InterpreterServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckProcedure}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InterpreterServer).Check(ctx, req.(*CheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcService adapts RunService errors to gRPC status errors.
type grpcService struct {
	svc *RunService
}

func (g grpcService) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := g.svc.Run(ctx, req)
	return resp, toStatus(err)
}

func (g grpcService) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	resp, err := g.svc.Check(ctx, req)
	return resp, toStatus(err)
}

// toStatus converts a connect error. Connect codes share gRPC's numbering.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return status.Error(codes.Code(ce.Code()), ce.Message())
	}
	return status.Error(codes.Internal, err.Error())
}

// NewGRPCServer creates a gRPC server exposing svc.
func NewGRPCServer(svc *RunService, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	RegisterInterpreterServer(s, grpcService{svc: svc})
	return s
}

// GRPCClient calls the interpreter service over gRPC.
type GRPCClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCClient wraps an established connection.
func NewGRPCClient(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

// Run executes a program remotely.
func (c *GRPCClient) Run(ctx context.Context, req *RunRequest, opts ...grpc.CallOption) (*RunResponse, error) {
	out := new(RunResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, RunProcedure, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Check compiles a program remotely.
func (c *GRPCClient) Check(ctx context.Context, req *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error) {
	out := new(CheckResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, CheckProcedure, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
