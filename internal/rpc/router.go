package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

type handlerFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Router is the backend-side registry of procedures.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]handlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]handlerFunc)}
}

// Register binds resolver to p. Registering the same key twice panics.
func Register[In, Out any](r *Router, p Procedure[In, Out], resolver func(ctx context.Context, in In) (Out, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[p.Key]; exists {
		panic(fmt.Sprintf("rpc: procedure %q registered twice", p.Key))
	}
	r.handlers[p.Key] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in In
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, NewError(BadRequest, "decode input for %s: %v", p.Key, err)
			}
		}
		return resolver(ctx, in)
	}
}

// Exec runs the procedure named key and returns its JSON-encoded output.
// Resolver errors that are not *Error are reported as InternalServerError.
func (r *Router) Exec(ctx context.Context, key string, input json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	h, ok := r.handlers[key]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(NotFound, "procedure %q not found", key)
	}

	out, err := h(ctx, input)
	if err != nil {
		if CodeOf(err) == "" {
			return nil, &Error{Code: InternalServerError, Message: err.Error()}
		}
		return nil, err
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, NewError(InternalServerError, "encode output for %s: %v", key, err)
	}
	return b, nil
}

func (r *Router) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
