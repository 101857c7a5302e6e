package handlerregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/viewdeck/viewdeck/response"
	"github.com/viewdeck/viewdeck/router"
)

type stubHandler struct{ name string }

func (h stubHandler) Name() string { return h.name }
func (h stubHandler) Run(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error) {
	return response.String(h.name), nil
}

func TestRegister_AndGet(t *testing.T) {
	r := New()
	r.Register(stubHandler{"rooms.index"})

	assert.True(t, r.Has("rooms.index"))
	got := r.Get("rooms.index")
	assert.NotNil(t, got)
	assert.Equal(t, "rooms.index", got.Name())
}

func TestGet_UnknownReturnsNil(t *testing.T) {
	r := New()
	assert.Nil(t, r.Get("missing"))
	assert.False(t, r.Has("missing"))
}

func TestRegister_DuplicatePanics(t *testing.T) {
	r := New()
	r.Register(stubHandler{"dup"})
	assert.Panics(t, func() {
		r.Register(stubHandler{"dup"})
	})
}

func TestNames_ListsAllRegistered(t *testing.T) {
	r := New()
	r.Register(stubHandler{"a"})
	r.Register(stubHandler{"b"})

	names := r.Names()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
