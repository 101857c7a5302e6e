package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewdeck/viewdeck/middleware"
	"github.com/viewdeck/viewdeck/response"
	"github.com/viewdeck/viewdeck/router"
	"github.com/viewdeck/viewdeck/scheduler"
	"github.com/viewdeck/viewdeck/transport"
)

type fakeConn struct {
	mu       sync.Mutex
	user     string
	open     bool
	received []interface{}
}

func newFakeConn(user string) *fakeConn { return &fakeConn{user: user, open: true} }

func (c *fakeConn) User() string { return c.user }
func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
func (c *fakeConn) Send(message interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, message)
}
func (c *fakeConn) Messages() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.received))
	copy(out, c.received)
	return out
}

type funcHandler struct {
	name string
	run  func(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error)
}

func (h *funcHandler) Name() string { return h.name }
func (h *funcHandler) Run(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error) {
	if h.run == nil {
		return response.String("ok"), nil
	}
	return h.run(ctx, rt, req)
}

func stringHandler(name, text string) *funcHandler {
	return &funcHandler{name: name, run: func(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error) {
		return response.String(text), nil
	}}
}

func newTestController(t *testing.T, routes ...router.Route) (*Controller, *router.Router, *scheduler.Scheduler) {
	t.Helper()
	r := router.New()
	for _, rt := range routes {
		r.Register(rt)
	}
	sched := scheduler.New(4)
	chain := middleware.NewChain()
	priorities := Priorities{DefaultView: 10, DefaultMultiUserView: 5, RequestMiddleware: 0}
	c := New(r, sched, chain, nil, ErrorHandlers{}, priorities)
	t.Cleanup(sched.Stop)
	return c, r, sched
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandleMessage_View_DispatchesAndSendsResponse(t *testing.T) {
	handler := stringHandler("home", "welcome")
	c, _, _ := newTestController(t, router.NewRoute("home", "/", handler))

	conn := newFakeConn("alice")
	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/"})

	waitFor(t, func() bool { return len(conn.Messages()) > 0 })
	msgs := conn.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "welcome", msgs[0].(response.Dict).Text)
}

func TestHandleMessage_View_UnmatchedRouteInvokesFallback(t *testing.T) {
	c, _, _ := newTestController(t)
	conn := newFakeConn("alice")

	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/missing"})

	waitFor(t, func() bool { return len(conn.Messages()) > 0 })
	dict := conn.Messages()[0].(response.Dict)
	assert.Equal(t, 500, dict.Status)
	assert.Equal(t, "Internal Server Error", dict.Text)
}

func TestHandleMessage_View_HTTPPassThroughSendsRedirectEnvelope(t *testing.T) {
	route := router.NewRoute("legacy", "/legacy", stringHandler("legacy", "x"))
	route.HTTPPassThrough = true
	c, _, _ := newTestController(t, route)

	conn := newFakeConn("alice")
	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/legacy"})

	msgs := conn.Messages()
	require.Len(t, msgs, 1)
	env, ok := msgs[0].(HTTPRedirectEnvelope)
	require.True(t, ok)
	assert.Equal(t, "/legacy", env.TargetURL)
}

func TestHandleMessage_View_MiddlewareShortCircuitsToRequestingWindowOnly(t *testing.T) {
	handler := stringHandler("secret", "s")
	r := router.New()
	r.Register(router.NewRoute("secret", "/secret", handler))

	sched := scheduler.New(2)
	t.Cleanup(sched.Stop)

	deny := denyMiddleware{}
	chain := middleware.NewChain(deny)
	c := New(r, sched, chain, nil, ErrorHandlers{}, Priorities{DefaultView: 10, DefaultMultiUserView: 5})

	conn := newFakeConn("alice")
	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/secret"})

	msgs := conn.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "/login", msgs[0].(response.Dict).Redirect)
}

type denyMiddleware struct{}

func (denyMiddleware) Name() string { return "deny" }
func (denyMiddleware) Handle(ctx context.Context, req *middleware.Request, handler router.Handler) (response.RawResponse, error) {
	return response.Redirect{URL: "/login"}, nil
}

func TestHandleMessage_View_SingleUserIsolatedPerUser(t *testing.T) {
	gate := make(chan struct{})
	handler := &funcHandler{name: "room", run: func(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error) {
		<-gate
		return response.String("room"), nil
	}}
	c, _, _ := newTestController(t, router.NewRoute("room", "/room", handler))

	aliceConn := newFakeConn("alice")
	bobConn := newFakeConn("bob")
	c.HandleMessage(context.Background(), aliceConn, Message{Method: MethodView, WindowID: "w1", URL: "/room"})
	c.HandleMessage(context.Background(), bobConn, Message{Method: MethodView, WindowID: "w1", URL: "/room"})

	c.mu.Lock()
	_, aliceHas := c.singleUserViews["alice"]["room"]
	_, bobHas := c.singleUserViews["bob"]["room"]
	aliceRT := c.singleUserViews["alice"]["room"]
	bobRT := c.singleUserViews["bob"]["room"]
	c.mu.Unlock()

	assert.True(t, aliceHas)
	assert.True(t, bobHas)
	assert.NotSame(t, aliceRT, bobRT)

	close(gate)
}

func TestRemoveConnection_DropsWindowOwnership(t *testing.T) {
	handler := stringHandler("room", "x")
	c, _, _ := newTestController(t, router.NewRoute("room", "/room", handler))

	conn := newFakeConn("alice")
	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/room"})
	waitFor(t, func() bool { return len(conn.Messages()) > 0 })

	c.RemoveConnection(conn)

	c.mu.Lock()
	_, found := c.windowOwner[transport.Window{Connection: conn, WindowID: "w1"}.Key()]
	c.mu.Unlock()
	assert.False(t, found)
}

func TestHandleMessage_InputEvent_DroppedForUnknownWindow(t *testing.T) {
	c, _, _ := newTestController(t)
	conn := newFakeConn("alice")

	// Should not panic; there's no window owner registered.
	c.HandleMessage(context.Background(), conn, Message{Method: MethodInputEvent, WindowID: "w1", URL: "/room"})
	assert.Empty(t, conn.Messages())
}

func TestRunViewNonInteractive_ReturnsRenderedResponse(t *testing.T) {
	c, _, _ := newTestController(t, router.NewRoute("report", "/report", stringHandler("report", "done")))

	dict, err := c.RunViewNonInteractive(context.Background(), "/report", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", dict.Text)
}

func TestRunViewNonInteractive_UnmatchedRouteReturnsError(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.RunViewNonInteractive(context.Background(), "/nope", nil)
	require.Error(t, err)
}

func TestSnapshot_ReflectsInstalledRuntimes(t *testing.T) {
	handler := stringHandler("room", "x")
	c, _, _ := newTestController(t, router.NewRoute("room", "/room", handler))

	conn := newFakeConn("alice")
	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/room"})
	waitFor(t, func() bool { return len(conn.Messages()) > 0 })

	snap := c.Snapshot()
	require.Contains(t, snap.SingleUserViews, "alice")
	assert.Contains(t, snap.SingleUserViews["alice"], "room")
}

func TestStopView_RemovesEntryAndStopsRuntime(t *testing.T) {
	handler := stringHandler("room", "x")
	c, _, _ := newTestController(t, router.NewRoute("room", "/room", handler))

	conn := newFakeConn("alice")
	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/room"})
	waitFor(t, func() bool { return len(conn.Messages()) > 0 })

	ok := c.StopView("alice", "room", nil)
	assert.True(t, ok)

	c.mu.Lock()
	_, found := c.singleUserViews["alice"]["room"]
	c.mu.Unlock()
	assert.False(t, found)
}

func TestStopView_UnknownReturnsFalse(t *testing.T) {
	c, _, _ := newTestController(t)
	assert.False(t, c.StopView("nobody", "nothing", nil))
}

func TestHandleMessage_View_HandlerErrorDeliversFallbackToWindow(t *testing.T) {
	handler := &funcHandler{name: "broken", run: func(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error) {
		return nil, testErr("boom")
	}}
	c, _, _ := newTestController(t, router.NewRoute("broken", "/broken", handler))

	conn := newFakeConn("alice")
	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/broken"})

	waitFor(t, func() bool { return len(conn.Messages()) > 0 })
	dict := conn.Messages()[0].(response.Dict)
	assert.Equal(t, 500, dict.Status)
	assert.Equal(t, "Internal Server Error", dict.Text)
}

func TestHandleMessage_View_MultiUserRouteNotYetStartedGetsFallbackAndNoTableEntry(t *testing.T) {
	route := router.NewRoute("board", "/board", stringHandler("board", "x"))
	route.MultiUser = true
	c, _, _ := newTestController(t, route)

	conn := newFakeConn("alice")
	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/board"})

	msgs := conn.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 500, msgs[0].(response.Dict).Status)

	c.mu.Lock()
	_, singleUser := c.singleUserViews["alice"]["board"]
	_, multiUser := c.multiUserViews["board"]
	c.mu.Unlock()
	assert.False(t, singleUser)
	assert.False(t, multiUser)
}

type testErr string

func (e testErr) Error() string { return string(e) }

func TestRenderFrontendShell_PrefersRouteOverrideOverGlobalAndCore(t *testing.T) {
	override := stringHandler("shell.override", "override shell")
	route := router.NewRoute("home", "/", stringHandler("home", "body"))
	route.FrontendHandler = override
	c, _, _ := newTestController(t, route)
	c.SetFrontendViews(FrontendViews{
		Core:   stringHandler("shell.core", "core shell"),
		Global: stringHandler("shell.global", "global shell"),
	})

	dict, err := c.RenderFrontendShell(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, "override shell", dict.Text)
}

func TestRenderFrontendShell_FallsBackCoreThenGlobal(t *testing.T) {
	c, _, _ := newTestController(t, router.NewRoute("home", "/", stringHandler("home", "body")))
	c.SetFrontendViews(FrontendViews{Global: stringHandler("shell.global", "global shell")})

	dict, err := c.RenderFrontendShell(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, "global shell", dict.Text)

	c.SetFrontendViews(FrontendViews{
		Core:   stringHandler("shell.core", "core shell"),
		Global: stringHandler("shell.global", "global shell"),
	})
	dict, err = c.RenderFrontendShell(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, "core shell", dict.Text)
}

func TestRenderFrontendShell_NoHandlerConfiguredReturnsError(t *testing.T) {
	c, _, _ := newTestController(t, router.NewRoute("home", "/", stringHandler("home", "body")))
	_, err := c.RenderFrontendShell(context.Background(), "/")
	assert.Error(t, err)
}

func TestUpdateChain_SwapsActiveChainWithoutRestart(t *testing.T) {
	c, _, _ := newTestController(t, router.NewRoute("secret", "/secret", stringHandler("secret", "s")))

	conn := newFakeConn("alice")
	c.HandleMessage(context.Background(), conn, Message{Method: MethodView, WindowID: "w1", URL: "/secret"})
	waitFor(t, func() bool { return len(conn.Messages()) > 0 })
	assert.Equal(t, "s", conn.Messages()[0].(response.Dict).Text)

	c.UpdateChain(middleware.NewChain(denyMiddleware{}))

	conn2 := newFakeConn("bob")
	c.HandleMessage(context.Background(), conn2, Message{Method: MethodView, WindowID: "w1", URL: "/secret"})
	require.Len(t, conn2.Messages(), 1)
	assert.Equal(t, "/login", conn2.Messages()[0].(response.Dict).Redirect)
}

func TestUpdatePriorities_ReplacesActivePriorities(t *testing.T) {
	c, _, _ := newTestController(t)
	c.UpdatePriorities(Priorities{DefaultView: 99, DefaultMultiUserView: 1, RequestMiddleware: 2})
	assert.Equal(t, 99, c.priorities.Load().DefaultView)
}
