// Package middleware implements the ordered request-interception chain
// (spec §4.4), generalized from the teacher's single auth gate
// (server/auth/auth.go's Middleware(next) next wrapping) into an
// ordered sequence of independent interceptors run through the
// scheduler.
package middleware

import (
	"context"

	"github.com/viewdeck/viewdeck/response"
	"github.com/viewdeck/viewdeck/router"
	"github.com/viewdeck/viewdeck/scheduler"
	"github.com/viewdeck/viewdeck/viewerrors"
)

// Request is the minimal view of an in-flight dispatch a middleware
// needs to decide whether to intercept (spec §4.4: "invoked with
// (server, request, view_handler)").
type Request struct {
	User      string
	URL       string
	MatchInfo router.MatchInfo
	PostData  map[string]interface{}
}

// Middleware inspects a request for the handler it is about to reach
// and optionally short-circuits it by returning a non-nil RawResponse.
// A nil, nil return passes the request along unchanged.
type Middleware interface {
	Name() string
	Handle(ctx context.Context, req *Request, handler router.Handler) (response.RawResponse, error)
}

// Chain is an ordered, immutable sequence of middlewares.
type Chain struct {
	middlewares []Middleware
}

// NewChain builds a Chain from an ordered list (spec §3: "MIDDLEWARES
// / CORE_MIDDLEWARES — ordered middleware chain").
func NewChain(middlewares ...Middleware) *Chain {
	cp := make([]Middleware, len(middlewares))
	copy(cp, middlewares)
	return &Chain{middlewares: cp}
}

// Run invokes each middleware in order via sched.RunSync (spec §4.4,
// §5: middleware invocation is "sync=true, wait=true" and must not
// deadlock the worker pool, so it runs inline on the dispatcher rather
// than through the bounded pool). Nothing is queued, so the
// REQUEST_MIDDLEWARE_PRIORITY setting is not consulted here.
// The first middleware to return a non-nil response short-circuits the
// chain; that response is returned immediately and no later middleware
// or the view handler runs. A middleware error is fatal to the request
// (spec §7: MiddlewareException is treated as HandlerException).
func (c *Chain) Run(ctx context.Context, sched *scheduler.Scheduler, req *Request, handler router.Handler) (response.RawResponse, error) {
	for _, mw := range c.middlewares {
		mw := mw
		value, err := sched.RunSync(func(ctx context.Context) (interface{}, error) {
			return mw.Handle(ctx, req, handler)
		})
		if err != nil {
			return nil, viewerrors.Wrapf(err, "middleware %s", mw.Name())
		}
		if value == nil {
			continue
		}
		raw, ok := value.(response.RawResponse)
		if !ok || raw == nil {
			continue
		}
		return raw, nil
	}
	return nil, nil
}

// Len reports how many middlewares are in the chain.
func (c *Chain) Len() int { return len(c.middlewares) }
