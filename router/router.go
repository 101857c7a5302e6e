package router

import "strings"

// MatchInfo holds captured path parameters from a successful Resolve.
type MatchInfo map[string]string

// Router is an ordered sequence of Routes plus a reverse name index
// (spec §3). It performs a first-match ordered scan; ties are broken
// by registration order (spec §4.1).
type Router struct {
	routes []Route
	byName map[string]int // route name -> index into routes
}

// New returns an empty Router.
func New() *Router {
	return &Router{byName: make(map[string]int)}
}

// Register appends a Route. Routes are immutable once registered
// (spec §3); Register panics on a duplicate name, the way a static
// route table would fail fast at startup.
func (r *Router) Register(route Route) {
	if _, exists := r.byName[route.Name]; exists {
		panic("router: duplicate route name " + route.Name)
	}
	r.byName[route.Name] = len(r.routes)
	r.routes = append(r.routes, route)
}

// Routes returns the registered routes in registration order. The
// returned slice is a copy; callers cannot mutate the router through it.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// ByName looks up a route by its reverse-index name.
func (r *Router) ByName(name string) (Route, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Route{}, false
	}
	return r.routes[idx], true
}

// Resolve performs a first-match ordered scan over the registered
// routes and returns the matched Route and its captured path
// parameters (spec §4.1).
func (r *Router) Resolve(path string) (matched bool, route Route, info MatchInfo) {
	pathSegs := splitPath(path)
	for _, candidate := range r.routes {
		patternSegs := splitPath(candidate.Pattern)
		if info, ok := matchSegments(patternSegs, pathSegs); ok {
			return true, candidate, info
		}
	}
	return false, Route{}, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return []string{}
	}
	return strings.Split(p, "/")
}

// matchSegments matches pattern segments against path segments.
// A segment of the form "{name}" captures the corresponding path
// segment under "name"; any other segment must match literally. Spec
// §4.1 scopes the core to exactly this: "no regex beyond simple
// placeholder segments is required by the core".
func matchSegments(pattern, path []string) (MatchInfo, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	info := MatchInfo{}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := seg[1 : len(seg)-1]
			info[name] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return info, true
}
