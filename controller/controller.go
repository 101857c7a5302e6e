// Package controller implements the dispatch policy at the heart of
// the system (spec §4.6): the single_user_views / multi_user_views
// tables, the VIEW/INPUT_EVENT dispatch switch, reuse policy, and the
// 404/500 error-handler fallback chain.
//
// Grounded on the teacher's server/client.go routeMessage dispatch
// switch, server/broadcast.go's snapshot-before-iterate pattern for
// reading shared tables without holding a lock across a slow call, and
// server/handlers.go's HTTP error-handler shape.
package controller

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/viewdeck/viewdeck/internal/logging"
	"github.com/viewdeck/viewdeck/middleware"
	"github.com/viewdeck/viewdeck/response"
	"github.com/viewdeck/viewdeck/router"
	"github.com/viewdeck/viewdeck/runtime"
	"github.com/viewdeck/viewdeck/scheduler"
	"github.com/viewdeck/viewdeck/transport"
	"github.com/viewdeck/viewdeck/viewerrors"
)

// Method is the client message's dispatch method (spec §6: "methods
// are small integer codes").
type Method int

const (
	MethodView Method = iota
	MethodInputEvent
)

// Message is the transport-level envelope the controller dispatches
// on (spec §6 VIEW / INPUT_EVENT).
type Message struct {
	Method   Method
	WindowID string
	URL      string
	Payload  map[string]interface{}
}

// ErrorHandlers holds the replaceable 404/500 handlers and their
// exception-safe fallbacks (spec §4.7).
type ErrorHandlers struct {
	NotFound            router.Handler
	NotFoundFallback    router.Handler
	ServerError         router.Handler
	ServerErrorFallback router.Handler
}

// Priorities configures the scheduler priorities named in spec §6.
type Priorities struct {
	DefaultView          int
	DefaultMultiUserView int
	RequestMiddleware    int
}

// FrontendViews holds the global frontend-shell handlers configured at
// the FRONTEND_VIEW / CORE_FRONTEND_VIEW settings keys (SPEC_FULL §4).
// A Route.FrontendHandler, when set, takes precedence over both.
type FrontendViews struct {
	Core   router.Handler
	Global router.Handler
}

// Controller owns the router, scheduler, middleware chain, and the
// two runtime tables (spec §3: "Controller tables").
type Controller struct {
	router        *router.Router
	sched         *scheduler.Scheduler
	renderer      response.TemplateRenderer
	errHandlers   ErrorHandlers
	frontendViews FrontendViews

	// chain and priorities are read on every dispatch and swapped
	// wholesale by config.Watch's hot-reload callback (SPEC_FULL §4),
	// so they are held behind atomic.Pointer rather than c.mu: a
	// reload never blocks or is blocked by in-flight dispatch.
	chain      atomic.Pointer[middleware.Chain]
	priorities atomic.Pointer[Priorities]

	mu              sync.Mutex
	singleUserViews map[string]map[string]*runtime.ViewRuntime // user -> route name -> runtime
	multiUserViews  map[string]*runtime.ViewRuntime            // route name -> runtime

	// windowOwner tracks which runtime each (user, window) was last
	// attached to, so RemoveConnection / input dispatch can find the live
	// runtime for a window without scanning every table entry.
	windowOwner map[transport.WindowKey]*runtime.ViewRuntime

	logger interface {
		Errorw(msg string, keysAndValues ...interface{})
		Warnw(msg string, keysAndValues ...interface{})
	}
}

// New builds a Controller. Route handlers are expected to already be
// resolved (e.g. via handlerregistry.Registry) by the time they reach
// the router; the controller itself never resolves handler names at
// dispatch time (spec §9: no runtime string eval).
func New(r *router.Router, sched *scheduler.Scheduler, chain *middleware.Chain, renderer response.TemplateRenderer, errHandlers ErrorHandlers, priorities Priorities) *Controller {
	c := &Controller{
		router:          r,
		sched:           sched,
		renderer:        renderer,
		errHandlers:     errHandlers,
		singleUserViews: make(map[string]map[string]*runtime.ViewRuntime),
		multiUserViews:  make(map[string]*runtime.ViewRuntime),
		windowOwner:     make(map[transport.WindowKey]*runtime.ViewRuntime),
		logger:          logging.Named("controller"),
	}
	c.chain.Store(chain)
	c.priorities.Store(&priorities)
	return c
}

// SetFrontendViews installs the global/core frontend-shell handlers
// (SPEC_FULL §4). It is a plain field write, not an atomic swap, since
// it is only ever called once at boot before the gateway starts
// accepting connections.
func (c *Controller) SetFrontendViews(views FrontendViews) {
	c.frontendViews = views
}

// UpdateChain atomically replaces the active middleware chain. Used by
// config.Watch's hot-reload callback to apply a rebuilt chain without
// a process restart (SPEC_FULL §4).
func (c *Controller) UpdateChain(chain *middleware.Chain) {
	c.chain.Store(chain)
}

// UpdatePriorities atomically replaces the active scheduler priorities.
// Used by config.Watch's hot-reload callback (SPEC_FULL §4).
func (c *Controller) UpdatePriorities(p Priorities) {
	c.priorities.Store(&p)
}

// resolveFrontendHandler picks the frontend-shell handler for route,
// per SPEC_FULL §4's resolution order: route override, then
// CORE_FRONTEND_VIEW, then FRONTEND_VIEW.
func (c *Controller) resolveFrontendHandler(route router.Route) router.Handler {
	if route.FrontendHandler != nil {
		return route.FrontendHandler
	}
	if c.frontendViews.Core != nil {
		return c.frontendViews.Core
	}
	return c.frontendViews.Global
}

// RenderFrontendShell resolves url to a route and runs that route's
// frontend-shell handler non-interactively, for the plain-HTTP GET
// that bootstraps a client before it opens its websocket (SPEC_FULL
// §4: "handler for frontend shell").
func (c *Controller) RenderFrontendShell(ctx context.Context, url string) (response.Dict, error) {
	matched, route, matchInfo := c.router.Resolve(url)
	if !matched {
		return response.Dict{}, viewerrors.WithHint(viewerrors.ErrRouteNotFound, "no registered route matched "+url)
	}

	handler := c.resolveFrontendHandler(route)
	if handler == nil {
		return response.Dict{}, viewerrors.Newf("controller: no frontend view configured for route %s", route.Name)
	}

	rt := runtime.New(router.Route{Name: handler.Name(), Handler: handler}, url, handler, matchInfo, runtime.ModeNonInteractive)
	req := rt.GenMultiUserRequest()

	priorities := c.priorities.Load()
	future := c.sched.Schedule(func(ctx context.Context) (interface{}, error) {
		return rt.Start(ctx, req, nil, "", c.renderer)
	}, priorities.DefaultView)

	value, err := future.Wait(ctx)
	if err != nil {
		return response.Dict{}, err
	}
	dict, _ := value.(response.Dict)
	return dict, nil
}

// HandleMessage is the canonical dispatch for an incoming client
// message on a websocket (spec §4.6).
func (c *Controller) HandleMessage(ctx context.Context, conn transport.Connection, msg Message) {
	switch msg.Method {
	case MethodView:
		c.handleView(ctx, conn, msg)
	case MethodInputEvent:
		c.handleInputEvent(conn, msg)
	default:
		c.logger.Warnw("controller: unknown dispatch method", "method", msg.Method)
	}
}

func (c *Controller) handleView(ctx context.Context, conn transport.Connection, msg Message) {
	window := transport.Window{Connection: conn, WindowID: msg.WindowID}

	// Step 1: drop the requesting window's ownership entry, so its input
	// events no longer reach any previous view. The previous runtime's
	// own window set is not changed: it still holds this window and
	// still sends its later responses to it.
	c.detachWindow(window)

	// Step 2: resolve url via the router.
	matched, route, matchInfo := c.router.Resolve(msg.URL)
	if !matched {
		cause := viewerrors.WithHint(viewerrors.ErrRouteNotFound, "no registered route matched "+msg.URL)
		c.dispatchErrorResponse(ctx, conn, msg.WindowID, c.errHandlers.NotFound, c.errHandlers.NotFoundFallback, cause)
		return
	}

	// Step 3: http_pass_through or non-interactive routes never touch
	// a ViewRuntime; they get an HTTP-redirect envelope.
	if route.HTTPPassThrough || !route.Interactive {
		conn.Send(HTTPRedirectEnvelope{WindowID: msg.WindowID, TargetURL: msg.URL, CurrentURL: msg.URL})
		return
	}

	user := conn.User()

	// Step 4/5: run request middlewares against the resolved handler
	// (so auth middlewares can see the target handler without a
	// runtime being installed yet); a short-circuit response goes only
	// to this window.
	mwReq := &middleware.Request{User: user, URL: msg.URL, MatchInfo: matchInfo, PostData: msg.Payload}
	shortCircuit, err := c.chain.Load().Run(ctx, c.sched, mwReq, route.Handler)
	if err != nil {
		c.dispatchErrorResponse(ctx, conn, msg.WindowID, c.errHandlers.ServerError, c.errHandlers.ServerErrorFallback, err)
		return
	}
	if shortCircuit != nil {
		dict := response.Render(shortCircuit, route.Handler.Name(), c.renderer)
		conn.Send(dict)
		return
	}

	// Step 6: reuse policy. Multi-user routes are created exclusively by
	// StartMultiUserViews at boot (invariant I6: a multi-user runtime
	// never terminates except at shutdown); handleView only ever
	// attaches to an existing one, never installs into either table
	// itself, so a multi-user runtime can never end up filed under
	// singleUserViews where a later "dead entry" check would stop it
	// out from under every other attached user.
	if route.MultiUser {
		c.mu.Lock()
		existing := c.multiUserViews[route.Name]
		if existing != nil {
			c.windowOwner[window.Key()] = existing
		}
		c.mu.Unlock()

		if existing != nil {
			existing.AddConnection(conn, msg.WindowID, msg.URL)
			return
		}

		cause := viewerrors.WithHint(viewerrors.ErrRouteNotFound, "multi-user view "+route.Name+" has not started yet")
		c.dispatchErrorResponse(ctx, conn, msg.WindowID, c.errHandlers.ServerError, c.errHandlers.ServerErrorFallback, cause)
		return
	}

	c.mu.Lock()
	if existing := c.singleUserViews[user][route.Name]; existing != nil {
		if existing.IsDaemon && !existing.IsFinished() {
			// Single-user daemon reuse: attach and stop.
			c.windowOwner[window.Key()] = existing
			c.mu.Unlock()
			existing.AddConnection(conn, msg.WindowID, msg.URL)
			return
		}
		// Single-user dead entry: stop the old runtime, then proceed.
		existing.Stop(runtime.ErrDisconnectedByAllClients)
		delete(c.singleUserViews[user], route.Name)
	}
	c.mu.Unlock()

	// Step 7: install the new runtime, attach the window, start it.
	rt := runtime.New(route, msg.URL, route.Handler, matchInfo, runtime.ModeSingleUser)

	c.mu.Lock()
	if c.singleUserViews[user] == nil {
		c.singleUserViews[user] = make(map[string]*runtime.ViewRuntime)
	}
	c.singleUserViews[user][route.Name] = rt
	c.windowOwner[window.Key()] = rt
	c.mu.Unlock()

	req := rt.GenRequest(conn, msg.Payload)
	c.sched.Schedule(func(ctx context.Context) (interface{}, error) {
		dict, err := rt.Start(ctx, req, conn, msg.WindowID, c.renderer)
		if err != nil && !viewerrors.IsServerStop(err) {
			c.logger.Errorw("controller: view handler failed", "view", route.Handler.Name(), "error", err)
			errDict, ok := c.tryErrorHandler(ctx, c.errHandlers.ServerError, err)
			if !ok {
				errDict, ok = c.tryErrorHandler(ctx, c.errHandlers.ServerErrorFallback, err)
			}
			if !ok {
				errDict = response.Dict{Status: 500, ContentType: "text/html", Text: "Internal Server Error"}
			}
			rt.DeliverDict(errDict, nil)
			return errDict, err
		}
		return dict, err
	}, c.priorities.Load().DefaultView)
}

func (c *Controller) handleInputEvent(conn transport.Connection, msg Message) {
	window := transport.Window{Connection: conn, WindowID: msg.WindowID}

	c.mu.Lock()
	rt := c.windowOwner[window.Key()]
	c.mu.Unlock()

	if rt == nil {
		return // absent table / unknown URL: silently dropped (spec §4.6)
	}
	if rt.URL != msg.URL {
		return // first-match-by-url semantics: stale window, drop
	}

	rt.HandleInputEvent(msg.Payload)
}

// RemoveConnection detaches conn from every runtime it was attached
// to and drops its window-ownership entries (spec §5: "clients
// disconnecting implicitly trigger remove_connection").
func (c *Controller) RemoveConnection(conn transport.Connection) {
	c.mu.Lock()
	runtimes := make(map[*runtime.ViewRuntime]struct{})
	for key, rt := range c.windowOwner {
		if key.Conn == conn {
			runtimes[rt] = struct{}{}
			delete(c.windowOwner, key)
		}
	}
	c.mu.Unlock()

	for rt := range runtimes {
		rt.RemoveConnection(conn)
	}
}

func (c *Controller) detachWindow(window transport.Window) {
	c.mu.Lock()
	delete(c.windowOwner, window.Key())
	c.mu.Unlock()
}

// RunViewNonInteractive runs steps 4-7 without window attachment and
// returns the rendered response synchronously (spec §4.6).
func (c *Controller) RunViewNonInteractive(ctx context.Context, url string, postData map[string]interface{}) (response.Dict, error) {
	matched, route, matchInfo := c.router.Resolve(url)
	if !matched {
		return response.Dict{}, viewerrors.ErrRouteNotFound
	}

	mwReq := &middleware.Request{URL: url, MatchInfo: matchInfo, PostData: postData}
	shortCircuit, err := c.chain.Load().Run(ctx, c.sched, mwReq, route.Handler)
	if err != nil {
		return response.Dict{}, err
	}
	if shortCircuit != nil {
		return response.Render(shortCircuit, route.Handler.Name(), c.renderer), nil
	}

	rt := runtime.New(route, url, route.Handler, matchInfo, runtime.ModeNonInteractive)
	req := rt.GenMultiUserRequest()

	future := c.sched.Schedule(func(ctx context.Context) (interface{}, error) {
		return rt.Start(ctx, req, nil, "", c.renderer)
	}, c.priorities.Load().DefaultView)

	value, err := future.Wait(ctx)
	if err != nil {
		return response.Dict{}, err
	}
	dict, _ := value.(response.Dict)
	return dict, nil
}

// StartMultiUserViews pre-warms every registered multi_user route in
// registration order at boot (SPEC_FULL §4: "multi-user view
// pre-warming in registration order at boot").
func (c *Controller) StartMultiUserViews(ctx context.Context) {
	for _, route := range c.router.Routes() {
		if !route.MultiUser {
			continue
		}

		c.mu.Lock()
		if _, exists := c.multiUserViews[route.Name]; exists {
			c.mu.Unlock()
			continue
		}
		rt := runtime.New(route, route.Pattern, route.Handler, router.MatchInfo{}, runtime.ModeMultiUser)
		c.multiUserViews[route.Name] = rt
		c.mu.Unlock()

		req := rt.GenMultiUserRequest()
		c.sched.Schedule(func(ctx context.Context) (interface{}, error) {
			return rt.Start(ctx, req, nil, "", c.renderer)
		}, c.priorities.Load().DefaultMultiUserView)
	}
}

// dispatchErrorResponse implements spec §4.7's fallback policy: invoke
// the primary handler; on exception (or a nil primary) fall back; if
// the fallback also fails, surface the hardcoded minimal response.
func (c *Controller) dispatchErrorResponse(ctx context.Context, conn transport.Connection, windowID string, primary, fallback router.Handler, cause error) {
	dict, ok := c.tryErrorHandler(ctx, primary, cause)
	if !ok {
		dict, ok = c.tryErrorHandler(ctx, fallback, cause)
	}
	if !ok {
		dict = response.Dict{Status: 500, ContentType: "text/html", Text: "Internal Server Error"}
	}
	conn.Send(dict)
}

func (c *Controller) tryErrorHandler(ctx context.Context, handler router.Handler, cause error) (dict response.Dict, ok bool) {
	if handler == nil {
		return response.Dict{}, false
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorw("controller: error handler panicked", "handler", handler.Name(), "panic", r)
			ok = false
		}
	}()

	rt := runtime.New(router.Route{Name: handler.Name(), Handler: handler}, "", handler, router.MatchInfo{}, runtime.ModeNonInteractive)
	req := rt.GenMultiUserRequest()
	req.PostData = map[string]interface{}{"cause": cause}

	future := c.sched.Schedule(func(ctx context.Context) (interface{}, error) {
		return rt.Start(ctx, req, nil, "", c.renderer)
	}, c.priorities.Load().DefaultView)

	value, err := future.Wait(ctx)
	if err != nil {
		c.logger.Errorw("controller: error handler failed", "handler", handler.Name(), "error", err, "cause", cause)
		return response.Dict{}, false
	}
	dict, _ = value.(response.Dict)
	return dict, true
}

// HTTPRedirectEnvelope is the server->client envelope for
// http_pass_through routes (spec §6).
type HTTPRedirectEnvelope struct {
	WindowID   string
	TargetURL  string
	CurrentURL string
}

// Snapshot is the shell/introspection surface (SPEC_FULL §4): readers
// take a copy rather than touching the live tables (spec §5: "readers
// (shell introspection) take a snapshot"), grounded on the teacher's
// broadcastMessage snapshot-before-iterate pattern.
type Snapshot struct {
	SingleUserViews map[string]map[string]RuntimeInfo
	MultiUserViews  map[string]RuntimeInfo
}

// RuntimeInfo is a read-only summary of a ViewRuntime for introspection.
type RuntimeInfo struct {
	ID       string
	Route    string
	URL      string
	State    runtime.State
	IsDaemon bool
	Windows  int
}

func describe(rt *runtime.ViewRuntime) RuntimeInfo {
	return RuntimeInfo{
		ID:       rt.ID,
		Route:    rt.Route.Name,
		URL:      rt.URL,
		State:    rt.State(),
		IsDaemon: rt.IsDaemon,
		Windows:  rt.WindowCount(),
	}
}

// Snapshot returns a point-in-time copy of the controller's tables.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		SingleUserViews: make(map[string]map[string]RuntimeInfo, len(c.singleUserViews)),
		MultiUserViews:  make(map[string]RuntimeInfo, len(c.multiUserViews)),
	}
	for user, routes := range c.singleUserViews {
		inner := make(map[string]RuntimeInfo, len(routes))
		for routeName, rt := range routes {
			inner[routeName] = describe(rt)
		}
		snap.SingleUserViews[user] = inner
	}
	for routeName, rt := range c.multiUserViews {
		snap.MultiUserViews[routeName] = describe(rt)
	}
	return snap
}

// StopView stops a single user's runtime for a route, for
// administrative use (SPEC_FULL §4 shell/introspection surface).
func (c *Controller) StopView(user, routeName string, reason error) bool {
	c.mu.Lock()
	rt := c.singleUserViews[user][routeName]
	if rt != nil {
		delete(c.singleUserViews[user], routeName)
	}
	c.mu.Unlock()

	if rt == nil {
		return false
	}
	rt.Stop(reason)
	return true
}

// StopMultiUserView stops a shared multi-user runtime.
func (c *Controller) StopMultiUserView(routeName string, reason error) bool {
	c.mu.Lock()
	rt := c.multiUserViews[routeName]
	if rt != nil {
		delete(c.multiUserViews, routeName)
	}
	c.mu.Unlock()

	if rt == nil {
		return false
	}
	rt.Stop(reason)
	return true
}

// Stop broadcasts ServerStop through both tables (spec §5: "ServerStop
// broadcasts through the tables; every runtime receives
// stop(ServerStop)").
func (c *Controller) Stop() {
	c.mu.Lock()
	runtimes := make([]*runtime.ViewRuntime, 0)
	for _, routes := range c.singleUserViews {
		for _, rt := range routes {
			runtimes = append(runtimes, rt)
		}
	}
	for _, rt := range c.multiUserViews {
		runtimes = append(runtimes, rt)
	}
	c.mu.Unlock()

	for _, rt := range runtimes {
		rt.Stop(viewerrors.ErrServerStop)
	}
	c.sched.Stop()
}
