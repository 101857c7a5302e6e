package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewdeck/viewdeck/response"
	"github.com/viewdeck/viewdeck/router"
	"github.com/viewdeck/viewdeck/scheduler"
)

type funcMW struct {
	name string
	fn   func(ctx context.Context, req *Request, handler router.Handler) (response.RawResponse, error)
}

func (m *funcMW) Name() string { return m.name }
func (m *funcMW) Handle(ctx context.Context, req *Request, handler router.Handler) (response.RawResponse, error) {
	return m.fn(ctx, req, handler)
}

type stubHandler struct{ name string }

func (h stubHandler) Name() string { return h.name }
func (h stubHandler) Run(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error) {
	return response.String(h.name), nil
}

func passThrough(name string) *funcMW {
	return &funcMW{name: name, fn: func(ctx context.Context, req *Request, handler router.Handler) (response.RawResponse, error) {
		return nil, nil
	}}
}

func TestChain_AllPassThrough_ReturnsNil(t *testing.T) {
	sched := scheduler.New(2)
	defer sched.Stop()

	chain := NewChain(passThrough("a"), passThrough("b"))
	raw, err := chain.Run(context.Background(), sched, &Request{}, stubHandler{"view"})
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestChain_ShortCircuitsOnFirstNonNil(t *testing.T) {
	sched := scheduler.New(2)
	defer sched.Stop()

	var ranThird bool
	deny := &funcMW{name: "auth", fn: func(ctx context.Context, req *Request, handler router.Handler) (response.RawResponse, error) {
		return response.Redirect{URL: "/login"}, nil
	}}
	third := &funcMW{name: "third", fn: func(ctx context.Context, req *Request, handler router.Handler) (response.RawResponse, error) {
		ranThird = true
		return nil, nil
	}}

	chain := NewChain(passThrough("a"), deny, third)
	raw, err := chain.Run(context.Background(), sched, &Request{}, stubHandler{"view"})
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, response.Redirect{URL: "/login"}, raw)
	assert.False(t, ranThird)
}

func TestChain_MiddlewareErrorIsFatal(t *testing.T) {
	sched := scheduler.New(2)
	defer sched.Stop()

	boom := &funcMW{name: "boom", fn: func(ctx context.Context, req *Request, handler router.Handler) (response.RawResponse, error) {
		return nil, assertErr("boom")
	}}
	chain := NewChain(boom)

	_, err := chain.Run(context.Background(), sched, &Request{}, stubHandler{"view"})
	require.Error(t, err)
}

func TestChain_Len(t *testing.T) {
	chain := NewChain(passThrough("a"), passThrough("b"), passThrough("c"))
	assert.Equal(t, 3, chain.Len())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
