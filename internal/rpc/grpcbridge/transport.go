package grpcbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"mangashell/internal/rpc"
)

// tokenCredentials attaches the session token to every call. The bridge only
// listens on loopback, so it does not insist on TLS.
type tokenCredentials struct {
	token string
}

func (c tokenCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + c.token}, nil
}

func (tokenCredentials) RequireTransportSecurity() bool { return false }

// Transport is an rpc.Transport backed by a gRPC client connection.
type Transport struct {
	conn *grpc.ClientConn
}

// Dial prepares a connection to target. The connection is lazy: an
// unreachable backend surfaces on the first call, not here.
func Dial(target, token string, opts ...grpc.DialOption) (*Transport, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(tokenCredentials{token: token}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("bridge client %s: %w", target, err)
	}
	return &Transport{conn: conn}, nil
}

func (t *Transport) Do(ctx context.Context, req rpc.Request) (json.RawMessage, error) {
	in := &CallRequest{Key: req.Key, Input: req.Input}
	out := new(CallResponse)
	if err := t.conn.Invoke(ctx, callMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out.Output, nil
}

func (t *Transport) Close() error {
	return t.conn.Close()
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", rpc.ErrTransportUnavailable, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s", rpc.ErrTransportUnavailable, st.Message())
	case codes.NotFound:
		return &rpc.Error{Code: rpc.NotFound, Message: st.Message()}
	case codes.InvalidArgument:
		return &rpc.Error{Code: rpc.BadRequest, Message: st.Message()}
	case codes.Unauthenticated, codes.PermissionDenied:
		return &rpc.Error{Code: rpc.Unauthorized, Message: st.Message()}
	default:
		return &rpc.Error{Code: rpc.InternalServerError, Message: st.Message()}
	}
}
