package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/purrrlove/perch/internal/model"
)

// IDSegment is the action placeholder for routes addressed by record ID,
// e.g. PUT /api/v1/keys/{id}.
const IDSegment = "{id}"

// HandlerFunc executes one resource operation. The returned value is placed
// in the response envelope's data field; errors are mapped through AsError.
type HandlerFunc func(ctx context.Context, req *Request, p *model.Principal) (any, error)

// RouteKey identifies one operation in the dispatch table.
type RouteKey struct {
	Resource string
	Action   string // literal action, IDSegment, or "" for the collection
	Method   string
}

// Route is a registered operation. Scope, when set, must be held by the
// principal or dispatch fails Forbidden.
type Route struct {
	Key     RouteKey
	Scope   string
	Handler HandlerFunc
}

// Registry is the typed dispatch table keyed by (resource, action, method).
// It is populated at startup; Lookup is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	routes map[RouteKey]*Route
}

// NewRegistry returns an empty dispatch table.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[RouteKey]*Route)}
}

// Register adds one operation. Registering the same key twice replaces the
// earlier entry.
func (g *Registry) Register(resource, action, method, scope string, h HandlerFunc) {
	key := RouteKey{Resource: resource, Action: action, Method: method}
	g.mu.Lock()
	g.routes[key] = &Route{Key: key, Scope: scope, Handler: h}
	g.mu.Unlock()
}

// Lookup resolves a parsed request to a route. A literal action match wins;
// otherwise an IDSegment route matches with the action segment promoted to
// the request ID. A miss returns nil.
func (g *Registry) Lookup(req *Request, method string) *Route {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if r, ok := g.routes[RouteKey{Resource: req.Resource, Action: req.Action, Method: method}]; ok {
		return r
	}
	if req.Action != "" {
		if r, ok := g.routes[RouteKey{Resource: req.Resource, Action: IDSegment, Method: method}]; ok {
			return r
		}
	}
	return nil
}

// Dispatch authorizes and runs the operation for req. The caller has
// already authenticated and rate-limited the principal; this is the final
// stage, so an unknown combination is the first moment NotFound can be
// returned without leaking resource existence to unauthenticated callers.
func (g *Registry) Dispatch(ctx context.Context, req *Request, method string, p *model.Principal) (any, error) {
	route := g.Lookup(req, method)
	if route == nil {
		return nil, ErrNotFound("Resource")
	}
	if route.Key.Action == IDSegment {
		req.ID = req.Action
		req.Action = ""
	}
	if route.Scope != "" && !p.HasScope(route.Scope) {
		return nil, ErrForbidden("missing scope " + route.Scope)
	}
	return route.Handler(ctx, req, p)
}

// Resources returns the distinct registered resource names, sorted. Used by
// the OpenAPI generator and admin tooling.
func (g *Registry) Resources() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{}
	for k := range g.routes {
		seen[k.Resource] = true
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
