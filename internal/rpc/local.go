package rpc

import (
	"context"
	"encoding/json"
)

// LocalTransport calls a Router in the same process.
type LocalTransport struct {
	Router *Router
}

func (t LocalTransport) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if t.Router == nil {
		return nil, ErrTransportUnavailable
	}
	return t.Router.Exec(ctx, req.Key, req.Input)
}
