package ironauth

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lborres/ironauth/core"
	"github.com/lborres/ironauth/pkg/cache"
	"github.com/lborres/ironauth/pkg/crypto"
	"github.com/lborres/ironauth/services"
	"github.com/lborres/ironauth/session"
)

// interfaces
type (
	Adapter          = core.Adapter
	SessionStore     = core.SessionStore
	Observer         = core.Observer
	Provider         = core.Provider
	EndpointProvider = core.EndpointProvider
)

// structs
type (
	Config        = core.Config
	ParsedConfig  = core.ParsedConfig
	Secrets       = core.Secrets
	Redirects     = core.Redirects
	CookieOptions = core.CookieOptions
	RawRequest    = core.RawRequest
	Request       = core.Request
	Result        = core.Result
	Envelope      = core.Envelope
	Error         = core.Error
)

type (
	User            = core.User
	Account         = core.Account
	AccountWithUser = core.AccountWithUser
	Session         = core.Session
)

const tracerName = "github.com/lborres/ironauth"

// Constructors & helpers (convenience re-exports)
var (
	ParseConfig     = core.ParseConfig
	EnvFromOS       = core.EnvFromOS
	RedirectTo      = core.RedirectTo
	ErrorRedirectTo = core.ErrorRedirectTo
	Normalize       = core.Normalize
)

var (
	ErrAccountExists = core.ErrAccountExists
	ErrUserNotFound  = core.ErrUserNotFound
)

var (
	ErrAdapterRequired          = core.ErrAdapterRequired
	ErrProvidersRequired        = core.ErrProvidersRequired
	ErrDuplicateProvider        = core.ErrDuplicateProvider
	ErrIronPasswordRequired     = core.ErrIronPasswordRequired
	ErrIronPasswordTooShort     = core.ErrIronPasswordTooShort
	ErrEncryptionSecretRequired = core.ErrEncryptionSecretRequired
	ErrCSRFSecretRequired       = core.ErrCSRFSecretRequired
	ErrInvalidURL               = core.ErrInvalidURL
	ErrInvalidProviderConfig    = core.ErrInvalidProviderConfig
)

// IronAuth handles every request under the auth base path.
type IronAuth struct {
	config   *core.ParsedConfig
	sessions core.SessionStore
	router   *services.Router
	observer core.Observer
	tracer   trace.Tracer
}

type settings struct {
	env      core.Env
	sessions core.SessionStore
	cipher   *crypto.Cipher
	observer core.Observer
	tracer   trace.Tracer
	plugins  []core.EndpointProvider
}

type Option func(*settings)

// WithEnv replaces the process environment as the source of env fallbacks.
func WithEnv(env core.Env) Option {
	return func(s *settings) { s.env = env }
}

// WithSessionStore replaces the sealed cookie session store.
func WithSessionStore(store core.SessionStore) Option {
	return func(s *settings) { s.sessions = store }
}

// WithCipher sets the cipher used for stored credentials.
func WithCipher(c *crypto.Cipher) Option {
	return func(s *settings) { s.cipher = c }
}

func WithObserver(o core.Observer) Option {
	return func(s *settings) { s.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// WithEndpoints registers additional endpoints next to the built-in routes.
func WithEndpoints(p core.EndpointProvider) Option {
	return func(s *settings) { s.plugins = append(s.plugins, p) }
}

func New(config Config, opts ...Option) (*IronAuth, error) {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.env == nil {
		s.env = core.EnvFromOS()
	}

	parsed, err := core.ParseConfig(config, s.env)
	if err != nil {
		return nil, err
	}

	// Set Defaults

	sessions := s.sessions
	if sessions == nil {
		sessions, err = session.FromConfig(parsed, session.WithCache(cache.Config{
			TTL:     5 * time.Minute,
			MaxSize: 500,
		}))
		if err != nil {
			return nil, err
		}
	}

	observer := s.observer
	if observer == nil {
		observer = noopObserver{}
	}

	tracer := s.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	providers := append([]core.EndpointProvider{services.NewAuthService(sessions, s.cipher)}, s.plugins...)
	router, err := services.NewRouter(parsed, sessions, providers...)
	if err != nil {
		return nil, err
	}

	return &IronAuth{
		config:   parsed,
		sessions: sessions,
		router:   router,
		observer: observer,
		tracer:   tracer,
	}, nil
}

// Config returns the resolved configuration.
func (a *IronAuth) Config() *core.ParsedConfig {
	return a.config
}

// BasePath is where transports mount the handler.
func (a *IronAuth) BasePath() string {
	return a.config.BasePath
}

// Endpoints returns every routed endpoint.
func (a *IronAuth) Endpoints() []*core.Endpoint {
	return a.router.Endpoints()
}

// Handle runs one request through normalization, dispatch and callback
// resolution. It always produces a Result.
func (a *IronAuth) Handle(ctx context.Context, raw core.RawRequest) core.Result {
	start := time.Now()

	req := core.Normalize(raw)
	ctx, span := a.tracer.Start(ctx, "ironauth.handle",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("ironauth.path", req.Path),
		),
	)
	defer span.End()

	header := core.NewHeader()
	resp, err := a.router.Dispatch(ctx, req, header)

	code := core.CodeOK
	route := a.router.RouteLabel(req)

	if err != nil {
		authErr := core.AsError(err)
		code = authErr.Code
		a.logError(ctx, route, authErr)

		span.RecordError(err)
		span.SetStatus(codes.Error, authErr.Message)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	result := core.Render(core.ResolveCallback(a.config, resp, err), header)

	span.SetAttributes(
		attribute.String("ironauth.route", route),
		attribute.String("ironauth.code", string(code)),
		attribute.Int("http.status_code", result.Status),
	)
	a.observer.ObserveRequest(req.Method, route, code, time.Since(start))

	return result
}

// logError logs client-facing errors in debug mode. NO_SESSION is routine
// and never logged.
func (a *IronAuth) logError(ctx context.Context, route string, err *core.Error) {
	if !a.config.Debug || err.Code == core.CodeNoSession {
		return
	}
	attrs := []any{"route", route, "code", string(err.Code), "message", err.Message}
	if cause := err.Unwrap(); cause != nil {
		attrs = append(attrs, "err", cause)
	}
	a.config.Log().ErrorContext(ctx, "ironauth: request failed", attrs...)
}

// GetServerSideSession returns the valid session carried by raw, or a
// NO_SESSION error.
func (a *IronAuth) GetServerSideSession(ctx context.Context, raw core.RawRequest) (*core.Session, error) {
	s, err := a.sessions.Read(ctx, core.Normalize(raw))
	if err != nil {
		return nil, err
	}
	return core.ValidSession(s)
}

// ModifySession merges patch into the session user, or replaces it when
// override is set, and returns the cookies that persist the change.
func (a *IronAuth) ModifySession(ctx context.Context, raw core.RawRequest, patch *core.User, override bool) (*core.Session, []*http.Cookie, error) {
	s, err := a.GetServerSideSession(ctx, raw)
	if err != nil {
		return nil, nil, err
	}

	s.MergeUser(patch, override)
	if _, err := core.ValidSession(s); err != nil {
		return nil, nil, err
	}

	header := core.NewHeader()
	if err := a.sessions.Save(ctx, s, header); err != nil {
		return nil, nil, err
	}
	return s, header.Cookies(), nil
}

type noopObserver struct{}

func (noopObserver) ObserveRequest(string, string, core.Code, time.Duration) {}
