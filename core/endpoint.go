package core

import "context"

// EndpointProvider provides a list of endpoints to register dynamically
type EndpointProvider interface {
	GetEndpoints() []Endpoint
}

// RouteHandler runs one route and returns its response data.
type RouteHandler func(ctx context.Context, rc *RouteContext) (any, error)

type Endpoint struct {
	Path     string // lower-cased route token, e.g. "signin"
	Method   string
	Handler  RouteHandler
	Metadata EndpointMetadata
}

type EndpointMetadata struct {
	OperationID string
	Description string

	// CSRF marks endpoints that require a verified CSRF token.
	CSRF bool
}

// RouteContext is everything a handler gets for one request.
type RouteContext struct {
	Request *Request
	Config  *ParsedConfig
	Session *Session
	Header  *Header
}
