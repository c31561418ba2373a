package router

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/util"
)

// Route priority constants for calculating route matching order.
// Higher priority routes are matched first.
const (
	// priorityExactMatch is the base priority for exact path matches.
	priorityExactMatch = 1000

	// priorityPrefixMatch is the base priority for prefix path matches.
	// Longer prefixes receive additional priority based on their length.
	priorityPrefixMatch = 500

	// priorityRegexMatch is the base priority for regex path matches.
	priorityRegexMatch = 100

	// priorityMethodRestriction is the priority bonus for routes with method restrictions.
	priorityMethodRestriction = 50

	// priorityHeaderRestriction is the priority bonus per header restriction.
	priorityHeaderRestriction = 10

	// priorityQueryRestriction is the priority bonus per query parameter restriction.
	priorityQueryRestriction = 5
)

// Router matches requests against a fixed route table. It is built once
// per configuration snapshot and never mutated afterwards, so matching
// needs no locking and repeated evaluations over the same snapshot return
// identical results.
type Router struct {
	routes   []*CompiledRoute
	routeMap map[string]*CompiledRoute
}

// CompiledRoute is a pre-compiled route for efficient matching.
type CompiledRoute struct {
	Name        string
	Config      config.Route
	HostMatcher *HostMatcher
	MatchSets   []*compiledMatchSet
	Priority    int
	order       int
}

// compiledMatchSet holds the matchers of one RouteMatch entry. All of its
// conditions must hold for the entry to match.
type compiledMatchSet struct {
	PathMatcher    PathMatcher
	MethodMatcher  *MethodMatcher
	HeaderMatchers []*HeaderMatcher
	QueryMatchers  []*QueryParamMatcher
}

// MatchResult contains the result of a route match.
type MatchResult struct {
	Route      *CompiledRoute
	PathParams map[string]string
}

// New compiles the given routes into a router. Routes are ordered by
// specificity, then configured priority, then declaration order, making
// matching fully deterministic.
func New(routes []config.Route) (*Router, error) {
	r := &Router{
		routes:   make([]*CompiledRoute, 0, len(routes)),
		routeMap: make(map[string]*CompiledRoute, len(routes)),
	}

	for i, route := range routes {
		if _, exists := r.routeMap[route.Name]; exists {
			return nil, fmt.Errorf("duplicate route name: %s", route.Name)
		}

		compiled, err := compileRoute(route, i)
		if err != nil {
			return nil, fmt.Errorf("failed to compile route %s: %w", route.Name, err)
		}

		r.routes = append(r.routes, compiled)
		r.routeMap[route.Name] = compiled
	}

	sort.SliceStable(r.routes, func(i, j int) bool {
		a, b := r.routes[i], r.routes[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Config.Priority != b.Config.Priority {
			return a.Config.Priority > b.Config.Priority
		}
		return a.order < b.order
	})

	return r, nil
}

// Match finds the matching route for a request. The host stage runs
// first; among routes surviving it the most specific path match wins.
func (r *Router) Match(req *http.Request) (*MatchResult, error) {
	host := req.Host
	path := req.URL.Path
	method := req.Method

	var best *MatchResult
	bestHostSpec := -1

	for _, route := range r.routes {
		hostOK, hostSpec := route.HostMatcher.Match(host)
		if !hostOK {
			continue
		}

		result := matchRoute(route, path, method, req)
		if result == nil {
			continue
		}

		// Routes are already ordered by path specificity, so the first
		// survivor at a given host rank wins. A more specific host match
		// still displaces it: the host stage outranks the path stage.
		if best == nil || hostSpec > bestHostSpec {
			best = result
			bestHostSpec = hostSpec
			if hostSpec >= hostExactSpecificity {
				break
			}
		}
	}

	if best == nil {
		return nil, util.NewRouteNotFoundError(method, host, path)
	}

	return best, nil
}

// matchRoute checks if a request matches a compiled route.
func matchRoute(route *CompiledRoute, path, method string, req *http.Request) *MatchResult {
	// A route with no match sets matches every request on its hosts.
	if len(route.MatchSets) == 0 {
		return &MatchResult{Route: route}
	}

	for _, set := range route.MatchSets {
		if result := matchSet(route, set, path, method, req); result != nil {
			return result
		}
	}

	return nil
}

func matchSet(route *CompiledRoute, set *compiledMatchSet, path, method string, req *http.Request) *MatchResult {
	// Check method first (fastest check)
	if set.MethodMatcher != nil && !set.MethodMatcher.Match(method) {
		return nil
	}

	var pathParams map[string]string
	if set.PathMatcher != nil {
		matched, params := set.PathMatcher.Match(path)
		if !matched {
			return nil
		}
		pathParams = params
	}

	for _, headerMatcher := range set.HeaderMatchers {
		if !headerMatcher.Match(req.Header) {
			return nil
		}
	}

	query := req.URL.Query()
	for _, queryMatcher := range set.QueryMatchers {
		if !queryMatcher.Match(query) {
			return nil
		}
	}

	return &MatchResult{
		Route:      route,
		PathParams: pathParams,
	}
}

// compileRoute compiles a route configuration into a CompiledRoute.
func compileRoute(route config.Route, order int) (*CompiledRoute, error) {
	compiled := &CompiledRoute{
		Name:        route.Name,
		Config:      route,
		HostMatcher: NewHostMatcher(route.Hosts),
		Priority:    calculatePriority(route),
		order:       order,
	}

	for i := range route.Match {
		set, err := compileMatchSet(&route.Match[i])
		if err != nil {
			return nil, err
		}
		compiled.MatchSets = append(compiled.MatchSets, set)
	}

	return compiled, nil
}

func compileMatchSet(match *config.RouteMatch) (*compiledMatchSet, error) {
	set := &compiledMatchSet{}

	if match.URI != nil {
		pathMatcher, err := createPathMatcher(match.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to create path matcher: %w", err)
		}
		set.PathMatcher = pathMatcher
	}

	if len(match.Methods) > 0 {
		set.MethodMatcher = NewMethodMatcher(match.Methods)
	}

	for _, headerCfg := range match.Headers {
		headerMatcher, err := NewHeaderMatcher(headerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create header matcher: %w", err)
		}
		set.HeaderMatchers = append(set.HeaderMatchers, headerMatcher)
	}

	for _, queryCfg := range match.QueryParams {
		queryMatcher, err := NewQueryParamMatcher(queryCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create query matcher: %w", err)
		}
		set.QueryMatchers = append(set.QueryMatchers, queryMatcher)
	}

	return set, nil
}

// createPathMatcher creates a path matcher from URI configuration.
func createPathMatcher(uri *config.URIMatch) (PathMatcher, error) {
	switch {
	case uri.Exact != "":
		return NewExactMatcher(uri.Exact), nil
	case uri.Prefix != "":
		return NewPrefixMatcher(uri.Prefix), nil
	case uri.Regex != "":
		return NewRegexMatcher(uri.Regex)
	}
	return nil, nil
}

// calculatePriority calculates the specificity rank of a route.
// Exact path matches rank above prefix matches (longer prefixes rank
// higher), prefix matches rank above regex matches, and additional
// restrictions (methods, headers, query params) break ties.
func calculatePriority(route config.Route) int {
	priority := 0

	for _, match := range route.Match {
		if match.URI != nil && match.URI.Exact != "" {
			priority += priorityExactMatch
		}

		if match.URI != nil && match.URI.Prefix != "" {
			priority += priorityPrefixMatch + len(match.URI.Prefix)
		}

		if match.URI != nil && match.URI.Regex != "" {
			priority += priorityRegexMatch
		}

		if len(match.Methods) > 0 {
			priority += priorityMethodRestriction
		}

		priority += len(match.Headers) * priorityHeaderRestriction
		priority += len(match.QueryParams) * priorityQueryRestriction
	}

	return priority
}

// GetRoute returns a route by name.
func (r *Router) GetRoute(name string) (*CompiledRoute, bool) {
	route, exists := r.routeMap[name]
	return route, exists
}

// Routes returns all routes in matching order.
func (r *Router) Routes() []*CompiledRoute {
	routes := make([]*CompiledRoute, len(r.routes))
	copy(routes, r.routes)
	return routes
}
