package ipc

import (
	"context"
	"encoding/json"
	"fmt"

	"mangashell/internal/query"
	"mangashell/internal/rpc"
)

// Hooks binds procedures to the query cache: the result of a procedure call
// is cached under a key derived from the procedure and its input.
type Hooks struct {
	Client *rpc.Client
	Cache  *query.Cache
}

func NewHooks(client *rpc.Client, cache *query.Cache) *Hooks {
	return &Hooks{Client: client, Cache: cache}
}

// Key returns the cache key of p called with in. Procedures without input
// are keyed by name alone.
func Key[In, Out any](p rpc.Procedure[In, Out], in In) string {
	b, err := json.Marshal(in)
	if err != nil || string(b) == "{}" || string(b) == "null" {
		return p.Key
	}
	return p.Key + ":" + string(b)
}

func Fetcher[In, Out any](client *rpc.Client, p rpc.Procedure[In, Out], in In) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		return rpc.Call(ctx, client, p, in)
	}
}

// UseQuery subscribes to p(in). The caller must Close the observer.
func UseQuery[In, Out any](h *Hooks, p rpc.Procedure[In, Out], in In) *query.Observer {
	return h.Cache.Subscribe(Key(p, in), Fetcher(h.Client, p, in))
}

// FetchQuery returns p(in) through the cache.
func FetchQuery[In, Out any](ctx context.Context, h *Hooks, p rpc.Procedure[In, Out], in In) (Out, error) {
	var zero Out
	s, err := h.Cache.Fetch(ctx, Key(p, in), Fetcher(h.Client, p, in))
	if err != nil {
		return zero, err
	}
	return Data[Out](s)
}

// Data extracts the typed payload of a successful state. Error states keep
// their last good data, which is returned along with the error.
func Data[T any](s query.State) (T, error) {
	var zero T
	if s.Data == nil {
		if s.Err != nil {
			return zero, s.Err
		}
		return zero, fmt.Errorf("query: no data (%s)", s.Status)
	}
	v, ok := s.Data.(T)
	if !ok {
		return zero, fmt.Errorf("query: data is %T, want %T", s.Data, zero)
	}
	return v, s.Err
}
