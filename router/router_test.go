package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewdeck/viewdeck/response"
)

type stubHandler string

func (s stubHandler) Name() string { return string(s) }
func (s stubHandler) Run(ctx context.Context, rt ViewRuntime, req *Request) (response.RawResponse, error) {
	return response.String(string(s)), nil
}

func TestResolve_FirstMatchWins(t *testing.T) {
	r := New()
	r.Register(NewRoute("hello", "/hello", stubHandler("h1")))
	r.Register(NewRoute("hello-dup", "/hello", stubHandler("h2")))

	matched, route, _ := r.Resolve("/hello")
	require.True(t, matched)
	assert.Equal(t, "hello", route.Name)
}

func TestResolve_CapturesPathParams(t *testing.T) {
	r := New()
	r.Register(NewRoute("room", "/rooms/{room_id}", stubHandler("room")))

	matched, route, info := r.Resolve("/rooms/42")
	require.True(t, matched)
	assert.Equal(t, "room", route.Name)
	assert.Equal(t, "42", info["room_id"])
}

func TestResolve_NoMatch(t *testing.T) {
	r := New()
	r.Register(NewRoute("hello", "/hello", stubHandler("h1")))

	matched, _, _ := r.Resolve("/missing")
	assert.False(t, matched)
}

func TestRegister_DuplicateNamePanics(t *testing.T) {
	r := New()
	r.Register(NewRoute("hello", "/hello", stubHandler("h1")))
	assert.Panics(t, func() {
		r.Register(NewRoute("hello", "/other", stubHandler("h2")))
	})
}

func TestByName(t *testing.T) {
	r := New()
	r.Register(NewRoute("hello", "/hello", stubHandler("h1")))
	r.Register(NewRoute("world", "/world", stubHandler("h2")))

	route, ok := r.ByName("world")
	require.True(t, ok)
	assert.Equal(t, "/world", route.Pattern)

	_, ok = r.ByName("missing")
	assert.False(t, ok)
}

func TestRoutes_ReturnsCopy(t *testing.T) {
	r := New()
	r.Register(NewRoute("hello", "/hello", stubHandler("h1")))

	routes := r.Routes()
	routes[0].Name = "mutated"

	route, _ := r.ByName("hello")
	assert.Equal(t, "hello", route.Name)
}
