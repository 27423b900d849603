package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Request struct {
	Key   string          `json:"key"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Transport moves a request to the backend and brings back the raw output.
// Framing is entirely the transport's business.
type Transport interface {
	Do(ctx context.Context, req Request) (json.RawMessage, error)
}

type Client struct {
	transport Transport
	logger    *zap.Logger
}

func NewClient(transport Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{transport: transport, logger: logger}
}

// Raw issues an untyped call.
func (c *Client) Raw(ctx context.Context, key string, input any) (json.RawMessage, error) {
	var raw json.RawMessage
	if input != nil {
		b, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("encode input for %s: %w", key, err)
		}
		raw = b
	}

	start := time.Now()
	out, err := c.transport.Do(ctx, Request{Key: key, Input: raw})
	if err != nil {
		c.logger.Debug("rpc call failed",
			zap.String("procedure", key),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	c.logger.Debug("rpc call",
		zap.String("procedure", key),
		zap.Int("bytes", len(out)),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

// Call issues p with in and decodes the result into p's output type.
func Call[In, Out any](ctx context.Context, c *Client, p Procedure[In, Out], in In) (Out, error) {
	var out Out
	raw, err := c.Raw(ctx, p.Key, in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode output for %s: %w", p.Key, err)
	}
	return out, nil
}
