// Package router resolves a URL path to a registered Route (spec §4.1).
//
// Handler, Request, and ViewRuntime live here rather than in the
// runtime package that implements ViewRuntime, so that Route (which
// the router owns) can hold a fully-typed Handler without router and
// runtime importing each other: runtime.ViewRuntime satisfies the
// ViewRuntime interface structurally, the same way the teacher keeps
// its narrow cross-package interfaces (e.g. server/auth's corsWrap
// func type) at the boundary that needs them rather than on the
// concrete implementation.
package router

import (
	"context"

	"github.com/viewdeck/viewdeck/response"
)

// ViewRuntime is the surface a running Handler may use to suspend
// itself pending client input (spec §4.3 "view's input loop"). It is
// implemented by *runtime.ViewRuntime; narrowed here to just what
// handler code is allowed to touch.
type ViewRuntime interface {
	// NextInputEvent blocks until an input event is enqueued, the
	// runtime stops, or ctx is cancelled (spec §5 suspension points).
	NextInputEvent(ctx context.Context) (interface{}, error)
}

// Request is bound to a single ViewRuntime invocation and, for
// single-user dispatch, a specific originating connection (spec §4.3:
// gen_request/gen_multi_user_request).
type Request struct {
	Runtime ViewRuntime

	// Connection is nil for server-started multi-user views
	// (gen_multi_user_request) and for non-interactive dispatch. It is
	// left untyped here (interface{}) to avoid a transport import;
	// callers type-assert to transport.Connection.
	Connection interface{}

	URL       string
	MatchInfo MatchInfo
	PostData  map[string]interface{}
}

// Handler is the resolved view-handler capability the core dispatches
// through the scheduler (spec §1). Run is invoked once per
// ViewRuntime.Start call and may block on rt.NextInputEvent to model
// the view's own event loop.
type Handler interface {
	// Name identifies the handler for logs and for the handler
	// registry (spec §9: "an explicit handler registry ... no runtime
	// string eval").
	Name() string

	Run(ctx context.Context, rt ViewRuntime, req *Request) (response.RawResponse, error)
}

// DaemonHandler is implemented by handlers that want their runtime to
// survive disconnection of its last window (spec §3 is_daemon,
// GLOSSARY "Daemon view").
type DaemonHandler interface {
	Handler
	Daemon() bool
}

// Route is an immutable, ordered entry in the router.
type Route struct {
	// Name is the reverse-index key (spec §3: "a reverse index from
	// name to Route").
	Name string

	// Pattern is the path pattern, e.g. "/rooms/{room_id}".
	Pattern string

	// Handler is the resolved view-handler capability for this route.
	Handler Handler

	// FrontendHandler optionally overrides the global frontend-view
	// handler for this route (SPEC_FULL §4: "frontend-view override
	// per route").
	FrontendHandler Handler

	// Interactive defaults to true; for a false route HandleMessage
	// answers with an HTTP-redirect envelope (like HTTPPassThrough) and
	// never attaches windows.
	Interactive bool

	// HTTPPassThrough routes are never dispatched to a ViewRuntime: the
	// Controller answers with an HTTP-redirect envelope (spec §4.6
	// step 3).
	HTTPPassThrough bool

	// MultiUser routes are created once at server start and shared by
	// every user (spec §3 invariant I6).
	MultiUser bool
}

// NewRoute builds a Route with Interactive defaulted to true, matching
// spec §3 ("flags interactive (default true) ...").
func NewRoute(name, pattern string, handler Handler) Route {
	return Route{
		Name:        name,
		Pattern:     pattern,
		Handler:     handler,
		Interactive: true,
	}
}
