package web

import (
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
)

// Router dispatches requests to handlers by method and path.
// Patterns support ":name" segments and a trailing "*" that matches the
// rest of the path, stored in the "*" param.
type Router struct {
	routes     []*route
	middleware []FastMiddleware
	mu         sync.RWMutex
}

type route struct {
	method  string
	pattern string
	handler FastRequestHandler
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{}
}

// Use appends router-wide middleware. It applies to routes registered
// before and after the call.
func (r *Router) Use(mw ...FastMiddleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

// Handle registers handler for method and pattern. Route middleware runs
// inside router middleware.
func (r *Router) Handle(method, pattern string, handler FastRequestHandler, mw ...FastMiddleware) {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, &route{method: method, pattern: pattern, handler: handler})
}

func (r *Router) GET(pattern string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Handle(fasthttp.MethodGet, pattern, handler, mw...)
}

func (r *Router) POST(pattern string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Handle(fasthttp.MethodPost, pattern, handler, mw...)
}

// ServeFastHTTP routes ctx to the first matching handler
func (r *Router) ServeFastHTTP(ctx *FastRequestContext) {
	r.mu.RLock()
	method := string(ctx.Method())
	path := string(ctx.Path())

	var (
		handler     FastRequestHandler
		pathMatched bool
	)
	for _, rt := range r.routes {
		if !matchPath(rt.pattern, path) {
			continue
		}
		pathMatched = true
		if rt.method == method {
			extractParams(rt.pattern, path, ctx.Params)
			handler = rt.handler
			break
		}
	}
	if handler == nil {
		r.mu.RUnlock()
		if pathMatched {
			ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			return
		}
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return
	}
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}
	r.mu.RUnlock()

	if err := handler(ctx); err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
	}
}

func matchPath(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}

	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	if len(patternParts) != len(pathParts) {
		return false
	}
	for i, part := range patternParts {
		if strings.HasPrefix(part, ":") {
			continue
		}
		if part != pathParts[i] {
			return false
		}
	}
	return true
}

func extractParams(pattern, path string, params map[string]string) {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		params["*"] = strings.TrimPrefix(path, prefix)
		pattern = strings.TrimSuffix(prefix, "/")
		path = path[:min(len(path), len(pattern))]
	}

	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	for i, part := range patternParts {
		if name, ok := strings.CutPrefix(part, ":"); ok && i < len(pathParts) {
			params[name] = pathParts[i]
		}
	}
}
