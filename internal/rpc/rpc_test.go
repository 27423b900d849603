package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoIn struct {
	Name string `json:"name"`
}

type echoOut struct {
	Greeting string `json:"greeting"`
}

var (
	echoProc   = Define[echoIn, echoOut]("echo")
	failProc   = Define[NoInput, echoOut]("fail")
	plainProc  = Define[NoInput, echoOut]("plain-error")
	absentProc = Define[NoInput, echoOut]("absent")
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	r := NewRouter()
	Register(r, echoProc, func(ctx context.Context, in echoIn) (echoOut, error) {
		if in.Name == "" {
			return echoOut{}, NewError(BadRequest, "name required")
		}
		return echoOut{Greeting: "hello " + in.Name}, nil
	})
	Register(r, failProc, func(ctx context.Context, _ NoInput) (echoOut, error) {
		return echoOut{}, NewError(NotFound, "nothing here")
	})
	Register(r, plainProc, func(ctx context.Context, _ NoInput) (echoOut, error) {
		return echoOut{}, errors.New("boom")
	})
	return NewClient(LocalTransport{Router: r}, nil)
}

func TestCallTyped(t *testing.T) {
	c := newTestClient(t)

	out, err := Call(context.Background(), c, echoProc, echoIn{Name: "mangadex"})
	require.NoError(t, err)
	assert.Equal(t, "hello mangadex", out.Greeting)
}

func TestCallBackendErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := Call(ctx, c, echoProc, echoIn{})
	assert.Equal(t, BadRequest, CodeOf(err))

	_, err = Call(ctx, c, failProc, NoInput{})
	assert.Equal(t, NotFound, CodeOf(err))

	_, err = Call(ctx, c, plainProc, NoInput{})
	assert.Equal(t, InternalServerError, CodeOf(err))
	assert.Contains(t, err.Error(), "boom")

	_, err = Call(ctx, c, absentProc, NoInput{})
	assert.Equal(t, NotFound, CodeOf(err))
}

func TestCallWithoutTransport(t *testing.T) {
	c := NewClient(LocalTransport{}, nil)
	_, err := Call(context.Background(), c, failProc, NoInput{})
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestRegisterTwicePanics(t *testing.T) {
	r := NewRouter()
	resolver := func(ctx context.Context, _ NoInput) (echoOut, error) { return echoOut{}, nil }
	Register(r, failProc, resolver)
	assert.Panics(t, func() { Register(r, failProc, resolver) })
	assert.Equal(t, []string{"fail"}, r.Keys())
}
