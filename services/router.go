package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lborres/ironauth/core"
)

// wrapperToken is the route segment catch-all routers put in front of the
// route name.
const wrapperToken = "ironauth"

// UnknownRoute labels requests whose route name matches no endpoint.
const UnknownRoute = "unknown"

// Router dispatches a normalized request to the endpoint registered for its
// method and route name. Endpoints marked for CSRF are only reached with a
// verified token.
type Router struct {
	config   *core.ParsedConfig
	sessions core.SessionStore

	// endpoints stores all registered endpoints keyed by "METHOD:PATH"
	endpoints map[string]*core.Endpoint
	routes    map[string]bool
}

// NewRouter creates a router with the endpoints of every provider
// registered.
func NewRouter(cfg *core.ParsedConfig, sessions core.SessionStore, providers ...core.EndpointProvider) (*Router, error) {
	r := &Router{
		config:    cfg,
		sessions:  sessions,
		endpoints: make(map[string]*core.Endpoint),
		routes:    make(map[string]bool),
	}

	for _, p := range providers {
		if err := r.RegisterPlugin(p.GetEndpoints()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func endpointKey(method, path string) string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(method), strings.ToLower(path))
}

// RegisterPlugin registers additional endpoints. Returns error if any
// endpoint conflicts with existing endpoints or with other endpoints in the
// same batch.
//
// If an error occurs, no endpoints from the batch are registered.
func (r *Router) RegisterPlugin(endpoints []core.Endpoint) error {
	seen := make(map[string]bool)
	for i := range endpoints {
		ep := &endpoints[i]
		key := endpointKey(ep.Method, ep.Path)

		if ep.Method != http.MethodGet && ep.Method != http.MethodPost {
			return fmt.Errorf("endpoint %s %s: only GET and POST are routed", ep.Method, ep.Path)
		}
		if ep.Handler == nil {
			return fmt.Errorf("endpoint %s %s: missing handler", ep.Method, ep.Path)
		}
		if _, exists := r.endpoints[key]; exists {
			return fmt.Errorf("endpoint conflict: %s %s already registered", ep.Method, ep.Path)
		}
		if seen[key] {
			return fmt.Errorf("plugin contains duplicate endpoint: %s %s", ep.Method, ep.Path)
		}
		seen[key] = true
	}

	for i := range endpoints {
		ep := endpoints[i]
		r.endpoints[endpointKey(ep.Method, ep.Path)] = &ep
		r.routes[strings.ToLower(ep.Path)] = true
	}
	return nil
}

// Endpoints returns all registered endpoints.
func (r *Router) Endpoints() []*core.Endpoint {
	result := make([]*core.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		result = append(result, ep)
	}
	return result
}

// RouteName resolves the lower-cased route name from the route key of query.
// A leading wrapper token is discarded.
func RouteName(query url.Values) (string, error) {
	routes := query[core.RouteKey]

	if len(routes) == 0 || routes[0] == "" {
		return "", core.NewError(core.CodeConfigError, "`ironauth` not found")
	}
	if routes[0] == wrapperToken {
		routes = routes[1:]
	}
	if len(routes) == 0 || routes[0] == "" {
		return "", core.NewError(core.CodeNotFound, "Invalid path")
	}
	return strings.ToLower(routes[0]), nil
}

// RouteLabel returns the route name of req when an endpoint is registered
// under it for any method, else UnknownRoute. The result is bounded by the
// registered endpoints, so it is safe as a metric label.
func (r *Router) RouteLabel(req *core.Request) string {
	route, err := RouteName(req.Query)
	if err != nil || !r.routes[route] {
		return UnknownRoute
	}
	return route
}

// Dispatch runs the endpoint matching req. Cookies the endpoint sets are
// written to header.
func (r *Router) Dispatch(ctx context.Context, req *core.Request, header *core.Header) (*core.Response, error) {
	route, err := RouteName(req.Query)
	if err != nil {
		return nil, err
	}

	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return nil, core.NewError(core.CodeNotFound, "Invalid request method")
	}

	ep, ok := r.endpoints[endpointKey(req.Method, route)]
	if !ok {
		return nil, core.NewError(core.CodeNotFound, "Invalid path")
	}

	if ep.Metadata.CSRF {
		if err := VerifyCSRFForRequest(req, r.config); err != nil {
			return nil, err
		}
	}

	session, err := r.sessions.Read(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if session == nil {
		session = &core.Session{}
	}

	data, err := ep.Handler(ctx, &core.RouteContext{
		Request: req,
		Config:  r.config,
		Session: session,
		Header:  header,
	})
	if err != nil {
		return nil, err
	}

	return &core.Response{
		RouteName: route,
		Code:      core.CodeOK,
		Data:      data,
	}, nil
}
