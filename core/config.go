package core

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
)

const (
	DefaultBasePath = "/api/auth"

	defaultCookieMaxAge  = 15 * 60
	defaultSessionMaxAge = 7 * 24 * 60 * 60

	MinIronPasswordLength = 32
)

// Environment variables that take precedence over Config values.
const (
	EnvIronPassword     = "IRON_AUTH_IRON_PASSWORD"
	EnvEncryptionSecret = "IRON_AUTH_ENCRYPTION_SECRET"
	EnvCSRFSecret       = "IRON_AUTH_CSRF_SECRET"
	EnvURL              = "IRON_AUTH_URL"
)

// CookieKind names one of the cookies the library sets.
type CookieKind string

const (
	CookieSession CookieKind = "session"
	CookieCSRF    CookieKind = "csrf"
	CookiePKCE    CookieKind = "pkce"
	CookieState   CookieKind = "state"
	CookieNonce   CookieKind = "nonce"
)

var cookieKinds = []CookieKind{CookieSession, CookieCSRF, CookiePKCE, CookieState, CookieNonce}

// Method is a route whose providers can be disabled or restricted.
type Method string

const (
	MethodSignIn      Method = "signin"
	MethodSignUp      Method = "signup"
	MethodLinkAccount Method = "linkaccount"
)

// CookieOptions overrides the defaults of one cookie. Zero fields keep the
// default.
type CookieOptions struct {
	Name     string
	MaxAge   int
	HTTPOnly *bool
	SameSite http.SameSite
	Path     string
	Secure   *bool
}

// CookiePolicy is the resolved form of CookieOptions.
type CookiePolicy struct {
	Name     string
	MaxAge   int
	HTTPOnly bool
	SameSite http.SameSite
	Path     string
	Secure   bool
}

// SecurePrefix reports whether the cookie name carries the __Host- prefix.
func (p CookiePolicy) SecurePrefix() bool {
	return p.Secure && p.Path == "/"
}

// CookieName is the name the cookie is written and read under.
func (p CookiePolicy) CookieName() string {
	if p.SecurePrefix() {
		return "__Host-" + p.Name
	}
	return p.Name
}

// Cookie builds the cookie carrying value.
func (p CookiePolicy) Cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     p.CookieName(),
		Value:    value,
		Path:     p.Path,
		MaxAge:   p.MaxAge,
		HttpOnly: p.HTTPOnly,
		SameSite: p.SameSite,
		Secure:   p.Secure,
	}
}

// Expired builds a cookie that clears this one.
func (p CookiePolicy) Expired() *http.Cookie {
	c := p.Cookie("")
	c.MaxAge = -1
	return c
}

// Redirect resolves a success redirect from the route's response data.
type Redirect func(data any) string

// ErrorRedirect resolves the redirect used for failed requests.
type ErrorRedirect func(err *Error) string

// RedirectTo is a fixed Redirect.
func RedirectTo(path string) Redirect {
	return func(any) string { return path }
}

// ErrorRedirectTo is a fixed ErrorRedirect.
func ErrorRedirectTo(path string) ErrorRedirect {
	return func(*Error) string { return path }
}

type Redirects struct {
	SignIn      Redirect
	SignUp      Redirect
	SignOut     Redirect
	LinkAccount Redirect
	Error       ErrorRedirect
}

// Secrets used by the library. IronPasswords allows password rotation: the
// highest id seals new sessions, every id may unseal.
type Secrets struct {
	IronPassword  string
	IronPasswords map[int]string
	Encryption    string
	CSRF          string
}

// Config is the user-supplied configuration.
type Config struct {
	Adapter   Adapter
	Providers []Provider

	Secrets Secrets

	// Optional config
	URL                    string
	BasePath               string
	AccountLinkingOnSignup *bool
	RestrictedMethods      map[Method][]ProviderIdentifier
	DisabledMethods        map[Method]bool
	Cookies                map[CookieKind]CookieOptions
	Redirects              Redirects
	Debug                  bool
	Logger                 *slog.Logger
}

// ParsedConfig is Config with every default and env fallback applied.
type ParsedConfig struct {
	Adapter   Adapter
	Providers []Provider

	IronPasswords    map[int]string
	EncryptionSecret string
	CSRFSecret       string

	URL                    string
	BasePath               string
	AccountLinkingOnSignup bool
	RestrictedMethods      map[Method][]ProviderIdentifier
	DisabledMethods        map[Method]bool
	Cookies                map[CookieKind]CookiePolicy
	Redirects              Redirects
	Debug                  bool
	Logger                 *slog.Logger
}

// Log returns the configured logger, or slog.Default.
func (c *ParsedConfig) Log() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Cookie returns the policy for kind.
func (c *ParsedConfig) Cookie(kind CookieKind) CookiePolicy {
	return c.Cookies[kind]
}

// FindProvider returns the provider registered under (typ, id).
func (c *ParsedConfig) FindProvider(typ ProviderType, id string) (Provider, bool) {
	want := ProviderIdentifier{Type: typ, ID: id}
	for _, p := range c.Providers {
		if p.Identifier() == want {
			return p, true
		}
	}
	return nil, false
}

// Allowed reports whether the provider may be used for method.
func (c *ParsedConfig) Allowed(method Method, id ProviderIdentifier) bool {
	allow, restricted := c.RestrictedMethods[method]
	return !restricted || slices.Contains(allow, id)
}

// Env is a snapshot of environment variables.
type Env map[string]string

// EnvFromOS reads the variables ParseConfig looks at.
func EnvFromOS() Env {
	env := Env{}
	for _, key := range []string{EnvIronPassword, EnvEncryptionSecret, EnvCSRFSecret, EnvURL} {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	return env
}

// ParseConfig validates cfg and resolves it into a ParsedConfig. Values in
// env take precedence over cfg. Every failure is a CONFIG_ERROR wrapping one
// of the config sentinels.
func ParseConfig(cfg Config, env Env) (*ParsedConfig, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fail := func(err error) (*ParsedConfig, error) {
		logger.Error("ironauth: invalid config", "err", err)
		return nil, configError(err)
	}

	if cfg.Adapter == nil {
		return fail(ErrAdapterRequired)
	}
	if len(cfg.Providers) == 0 {
		return fail(ErrProvidersRequired)
	}

	seen := make(map[ProviderIdentifier]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p == nil {
			return fail(ErrInvalidProviderConfig)
		}
		id := p.Identifier()
		if seen[id] {
			return fail(fmt.Errorf("%w: %s/%s", ErrDuplicateProvider, id.Type, id.ID))
		}
		seen[id] = true
	}

	passwords, err := ironPasswords(cfg.Secrets, env)
	if err != nil {
		return fail(err)
	}

	encryption := firstNonEmpty(env[EnvEncryptionSecret], cfg.Secrets.Encryption)
	if encryption == "" {
		return fail(ErrEncryptionSecretRequired)
	}
	csrf := firstNonEmpty(env[EnvCSRFSecret], cfg.Secrets.CSRF)
	if csrf == "" {
		return fail(ErrCSRFSecretRequired)
	}

	url := firstNonEmpty(env[EnvURL], cfg.URL)
	if url != "" {
		if !strings.HasPrefix(url, "http") {
			return fail(ErrInvalidURL)
		}
		url = strings.TrimSuffix(url, "/")
	}

	basePath := cfg.BasePath
	if basePath == "" {
		basePath = DefaultBasePath
	}

	linking := true
	if cfg.AccountLinkingOnSignup != nil {
		linking = *cfg.AccountLinkingOnSignup
	}

	cookies := make(map[CookieKind]CookiePolicy, len(cookieKinds))
	for _, kind := range cookieKinds {
		cookies[kind] = cookiePolicy(kind, cfg.Cookies[kind])
	}

	return &ParsedConfig{
		Adapter:                cfg.Adapter,
		Providers:              cfg.Providers,
		IronPasswords:          passwords,
		EncryptionSecret:       encryption,
		CSRFSecret:             csrf,
		URL:                    url,
		BasePath:               basePath,
		AccountLinkingOnSignup: linking,
		RestrictedMethods:      cfg.RestrictedMethods,
		DisabledMethods:        cfg.DisabledMethods,
		Cookies:                cookies,
		Redirects:              cfg.Redirects,
		Debug:                  cfg.Debug,
		Logger:                 logger,
	}, nil
}

func ironPasswords(secrets Secrets, env Env) (map[int]string, error) {
	var passwords map[int]string
	switch {
	case env[EnvIronPassword] != "":
		passwords = map[int]string{1: env[EnvIronPassword]}
	case len(secrets.IronPasswords) > 0:
		passwords = secrets.IronPasswords
	case secrets.IronPassword != "":
		passwords = map[int]string{1: secrets.IronPassword}
	default:
		return nil, ErrIronPasswordRequired
	}

	for id, p := range passwords {
		if p == "" {
			return nil, ErrIronPasswordRequired
		}
		if len(p) < MinIronPasswordLength {
			return nil, fmt.Errorf("%w: password %d", ErrIronPasswordTooShort, id)
		}
	}
	return passwords, nil
}

func cookiePolicy(kind CookieKind, opts CookieOptions) CookiePolicy {
	p := CookiePolicy{
		Name:     "iron-auth." + string(kind),
		MaxAge:   defaultCookieMaxAge,
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		Secure:   true,
	}
	if kind == CookieSession {
		p.MaxAge = defaultSessionMaxAge
	}

	if opts.Name != "" {
		p.Name = opts.Name
	}
	if opts.MaxAge != 0 {
		p.MaxAge = opts.MaxAge
	}
	if opts.HTTPOnly != nil {
		p.HTTPOnly = *opts.HTTPOnly
	}
	if opts.SameSite != 0 {
		p.SameSite = opts.SameSite
	}
	if opts.Path != "" {
		p.Path = opts.Path
	}
	if opts.Secure != nil {
		p.Secure = *opts.Secure
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsConfigError reports whether err came from ParseConfig.
func IsConfigError(err error) bool {
	return IsCode(err, CodeConfigError) || errors.Is(err, ErrInvalidProviderConfig)
}
