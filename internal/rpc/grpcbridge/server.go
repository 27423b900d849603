package grpcbridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"mangashell/internal/auth"
	"mangashell/internal/rpc"
)

const (
	serviceName = "mangashell.ipc.Bridge"
	callMethod  = "/" + serviceName + "/Call"
)

type CallRequest struct {
	Key   string          `json:"key"`
	Input json.RawMessage `json:"input,omitempty"`
}

type CallResponse struct {
	Output json.RawMessage `json:"output"`
}

type bridgeServer interface {
	Call(ctx context.Context, req *CallRequest) (*CallResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*bridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mangashell/ipc",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CallRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgeServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(bridgeServer).Call(ctx, req.(*CallRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Server exposes an rpc.Router over gRPC.
type Server struct {
	Router *rpc.Router
	Logger *zap.Logger
}

func NewServer(router *rpc.Router, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Router: router, Logger: logger}
}

func (s *Server) Call(ctx context.Context, req *CallRequest) (*CallResponse, error) {
	if req == nil || strings.TrimSpace(req.Key) == "" {
		return nil, status.Error(codes.InvalidArgument, "procedure key required")
	}

	start := time.Now()
	out, err := s.Router.Exec(ctx, req.Key, req.Input)
	if err != nil {
		s.Logger.Warn("procedure failed",
			zap.String("procedure", req.Key),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return nil, toStatus(err)
	}
	s.Logger.Debug("procedure served",
		zap.String("procedure", req.Key),
		zap.Duration("took", time.Since(start)))
	return &CallResponse{Output: out}, nil
}

// Register attaches s to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// NewGRPCServer builds a grpc.Server that requires a session token signed by tokens.
func NewGRPCServer(tokens auth.TokenService, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(AuthInterceptor(tokens, logger)))
	return grpc.NewServer(opts...)
}

// AuthInterceptor rejects calls without a valid bearer session token.
func AuthInterceptor(tokens auth.TokenService, logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 || !strings.HasPrefix(strings.ToLower(values[0]), "bearer ") {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}

		raw := strings.TrimSpace(values[0][len("Bearer "):])
		claims, err := tokens.Parse(raw)
		if err != nil {
			logger.Debug("rejected bridge call", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		logger.Debug("bridge call",
			zap.String("method", info.FullMethod),
			zap.String("session", claims.SessionID),
			zap.String("client", claims.Client))
		return handler(ctx, req)
	}
}

func toStatus(err error) error {
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) {
		return status.Error(codes.Internal, err.Error())
	}
	switch rpcErr.Code {
	case rpc.NotFound:
		return status.Error(codes.NotFound, rpcErr.Message)
	case rpc.BadRequest:
		return status.Error(codes.InvalidArgument, rpcErr.Message)
	case rpc.Unauthorized:
		return status.Error(codes.Unauthenticated, rpcErr.Message)
	default:
		return status.Error(codes.Internal, rpcErr.Message)
	}
}
