package ironauth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lborres/ironauth/adapters/memory"
	"github.com/lborres/ironauth/core"
	"github.com/lborres/ironauth/providers"
)

const (
	testIronPassword = "01234567890123456789012345678901"
	testEmail        = "test@example.com"
	testPassword     = "Passw0rd!"
)

func testConfig(adapter Adapter) Config {
	return Config{
		Adapter:   adapter,
		Providers: []Provider{providers.Credentials()},
		Secrets: Secrets{
			IronPassword: testIronPassword,
			Encryption:   "encryption-secret",
			CSRF:         "csrf-secret",
		},
	}
}

func newTestAuth(t *testing.T, mutate func(*Config), opts ...Option) (*IronAuth, *memory.Adapter) {
	t.Helper()
	adapter := memory.New()
	cfg := testConfig(adapter)
	if mutate != nil {
		mutate(&cfg)
	}
	auth, err := New(cfg, append([]Option{WithEnv(core.Env{})}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return auth, adapter
}

// browser keeps cookies between calls the way a user agent would.
type browser struct {
	t    *testing.T
	auth *IronAuth
	jar  map[string]string
}

func newBrowser(t *testing.T, auth *IronAuth) *browser {
	return &browser{t: t, auth: auth, jar: map[string]string{}}
}

func (b *browser) do(method, url string, body map[string]any) Result {
	b.t.Helper()
	jar := make(map[string]string, len(b.jar))
	for k, v := range b.jar {
		jar[k] = v
	}

	var raw any
	if body != nil {
		raw = body
	}
	result := b.auth.Handle(context.Background(), RawRequest{Method: method, URL: url, Cookies: jar, Body: raw})

	for _, c := range result.Cookies {
		if c.MaxAge < 0 {
			delete(b.jar, c.Name)
			continue
		}
		b.jar[c.Name] = c.Value
	}
	return result
}

func (b *browser) csrf() string {
	b.t.Helper()
	result := b.do(http.MethodGet, "/api/auth/csrf", nil)
	token, ok := result.Body.Data.(string)
	if !ok || token == "" {
		b.t.Fatalf("csrf returned %+v", result.Body)
	}
	return token
}

func (b *browser) post(route, email, password string) Result {
	b.t.Helper()
	return b.do(http.MethodPost, "/api/auth/"+route+"?type=credentials&providerId=email-pass-provider", map[string]any{
		"email":     email,
		"password":  password,
		"csrfToken": b.csrf(),
	})
}

// Requirement: signup, session, signout and signin work end to end through
// the sealed cookie.
func TestIronAuth_FullFlow(t *testing.T) {
	auth, adapter := newTestAuth(t, nil)
	b := newBrowser(t, auth)

	// signup
	result := b.post("signup", testEmail, testPassword)
	if result.Status != http.StatusOK || !result.Body.Success {
		t.Fatalf("signup failed: %d %+v", result.Status, result.Body)
	}
	user := result.Body.Data.(*User)

	// session
	result = b.do(http.MethodGet, "/api/auth/session", nil)
	if result.Status != http.StatusOK {
		t.Fatalf("session failed: %d %+v", result.Status, result.Body)
	}
	if s := result.Body.Data.(*Session); s.User.ID != user.ID {
		t.Errorf("expected session for %q, got %+v", user.ID, s.User)
	}

	// signout
	result = b.do(http.MethodPost, "/api/auth/signout", map[string]any{"csrfToken": b.csrf()})
	if result.Status != http.StatusOK || result.Body.Data != true {
		t.Fatalf("signout failed: %d %+v", result.Status, result.Body)
	}
	result = b.do(http.MethodGet, "/api/auth/session", nil)
	if result.Status != http.StatusUnauthorized || result.Body.Code != core.CodeNoSession {
		t.Errorf("expected NO_SESSION after signout, got %d %+v", result.Status, result.Body)
	}

	// signin
	result = b.post("signin", testEmail, testPassword)
	if result.Status != http.StatusOK {
		t.Fatalf("signin failed: %d %+v", result.Status, result.Body)
	}
	if got := result.Body.Data.(*User).ID; got != user.ID {
		t.Errorf("signed in as %q, want %q", got, user.ID)
	}

	if adapter.UserCount() != 1 || adapter.AccountCount() != 1 {
		t.Errorf("expected 1/1 rows, got %d/%d", adapter.UserCount(), adapter.AccountCount())
	}
}

// Requirement: wrong password and unknown email fail with the same body.
func TestIronAuth_SignInFailuresAreIndistinguishable(t *testing.T) {
	auth, _ := newTestAuth(t, nil)
	newBrowser(t, auth).post("signup", testEmail, testPassword)

	wrong := newBrowser(t, auth).post("signin", testEmail, "Wr0ngPass!")
	unknown := newBrowser(t, auth).post("signin", "nobody@example.com", testPassword)

	if wrong.Status != http.StatusUnauthorized || unknown.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 twice, got %d and %d", wrong.Status, unknown.Status)
	}
	if *wrong.Body != *unknown.Body {
		t.Errorf("bodies differ: %+v vs %+v", wrong.Body, unknown.Body)
	}
	if wrong.Body.Error != "Invalid credentials" {
		t.Errorf("unexpected message %q", wrong.Body.Error)
	}
}

// Requirement: a POST without CSRF token is rejected before the adapter is
// touched.
func TestIronAuth_CSRFGate(t *testing.T) {
	auth, adapter := newTestAuth(t, nil)

	result := auth.Handle(context.Background(), RawRequest{
		Method: http.MethodPost,
		URL:    "/api/auth/signup?type=credentials&providerId=email-pass-provider",
		Body:   `{"email":"test@example.com","password":"Passw0rd!"}`,
	})

	if result.Status != http.StatusForbidden || result.Body.Code != core.CodeInvalidCSRFToken {
		t.Errorf("expected 403 INVALID_CSRF_TOKEN, got %d %+v", result.Status, result.Body)
	}
	if adapter.Calls() != 0 {
		t.Errorf("adapter must not be called, got %d", adapter.Calls())
	}
}

// Requirement: configured redirects replace the JSON body.
func TestIronAuth_Redirects(t *testing.T) {
	auth, _ := newTestAuth(t, func(c *Config) {
		c.Redirects = Redirects{
			SignUp: func(data any) string { return "/welcome/" + data.(*User).ID },
			Error:  ErrorRedirectTo("/login"),
		}
	})
	b := newBrowser(t, auth)

	result := b.post("signup", testEmail, testPassword)
	if result.Status != http.StatusFound || !strings.HasPrefix(result.Redirect, "/welcome/") {
		t.Errorf("expected redirect to /welcome/<id>, got %d %q", result.Status, result.Redirect)
	}
	if len(result.Cookies) == 0 {
		t.Error("redirects must still carry the session cookie")
	}

	result = b.do(http.MethodGet, "/api/auth/nope", nil)
	if result.Redirect != "/login?error=NOT_FOUND&message=Invalid+path" {
		t.Errorf("unexpected error redirect %q", result.Redirect)
	}
}

// Requirement: debug logging reports errors, except NO_SESSION.
func TestIronAuth_DebugLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	auth, _ := newTestAuth(t, func(c *Config) {
		c.Debug = true
		c.Logger = logger
	})

	auth.Handle(context.Background(), RawRequest{Method: http.MethodGet, URL: "/api/auth/session"})
	if buf.Len() != 0 {
		t.Errorf("NO_SESSION must not be logged, got %q", buf.String())
	}

	auth.Handle(context.Background(), RawRequest{Method: http.MethodGet, URL: "/api/auth/nope"})
	if !strings.Contains(buf.String(), "NOT_FOUND") {
		t.Errorf("expected NOT_FOUND to be logged, got %q", buf.String())
	}
}

// Requirement: a failed request is logged once; the route message is only
// added for unexpected causes.
func TestIronAuth_DebugLoggingOncePerFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	auth, adapter := newTestAuth(t, func(c *Config) {
		c.Debug = true
		c.Logger = logger
	})
	b := newBrowser(t, auth)

	result := b.post("signin", testEmail, testPassword)
	if result.Body.Code != core.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %+v", result.Body)
	}
	if n := strings.Count(buf.String(), "Invalid credentials"); n != 1 {
		t.Errorf("typed failure logged %d times, want 1: %q", n, buf.String())
	}
	if strings.Contains(buf.String(), "Error signing in") {
		t.Errorf("typed failure must not get the route message: %q", buf.String())
	}

	buf.Reset()
	adapter.FindErr = errors.New("connection reset")
	result = b.post("signin", testEmail, testPassword)
	if result.Body.Code != core.CodeInternalServerError {
		t.Fatalf("expected INTERNAL, got %+v", result.Body)
	}
	if !strings.Contains(buf.String(), "Error signing in") || !strings.Contains(buf.String(), "connection reset") {
		t.Errorf("unexpected causes must be logged with the route message: %q", buf.String())
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveRequest(method, route string, code core.Code, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, method+" "+route+" "+string(code))
}

func TestIronAuth_Observer(t *testing.T) {
	observer := &recordingObserver{}
	auth, _ := newTestAuth(t, nil, WithObserver(observer))

	auth.Handle(context.Background(), RawRequest{Method: http.MethodGet, URL: "/api/auth/csrf"})
	auth.Handle(context.Background(), RawRequest{Method: http.MethodGet, URL: "/api/auth/session"})
	auth.Handle(context.Background(), RawRequest{Method: http.MethodGet, URL: "/api/auth/junk1"})
	auth.Handle(context.Background(), RawRequest{Method: http.MethodGet, URL: "/api/auth/JUNK2"})

	want := []string{"GET csrf OK", "GET session NO_SESSION", "GET unknown NOT_FOUND", "GET unknown NOT_FOUND"}
	if strings.Join(observer.calls, ",") != strings.Join(want, ",") {
		t.Errorf("observed %v, want %v", observer.calls, want)
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		env     core.Env
		wantErr error
	}{
		{name: "no adapter", mutate: func(c *Config) { c.Adapter = nil }, wantErr: ErrAdapterRequired},
		{name: "no providers", mutate: func(c *Config) { c.Providers = nil }, wantErr: ErrProvidersRequired},
		{name: "duplicate provider", mutate: func(c *Config) { c.Providers = append(c.Providers, providers.Credentials()) }, wantErr: ErrDuplicateProvider},
		{name: "no iron password", mutate: func(c *Config) { c.Secrets.IronPassword = "" }, wantErr: ErrIronPasswordRequired},
		{name: "short iron password", mutate: func(c *Config) { c.Secrets.IronPassword = "short" }, wantErr: ErrIronPasswordTooShort},
		{name: "no encryption secret", mutate: func(c *Config) { c.Secrets.Encryption = "" }, wantErr: ErrEncryptionSecretRequired},
		{name: "no csrf secret", mutate: func(c *Config) { c.Secrets.CSRF = "" }, wantErr: ErrCSRFSecretRequired},
		{name: "bad url", mutate: func(c *Config) { c.URL = "ftp://example.com" }, wantErr: ErrInvalidURL},
		{name: "env fills csrf secret", mutate: func(c *Config) { c.Secrets.CSRF = "" }, env: core.Env{core.EnvCSRFSecret: "from-env"}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig(memory.New())
			cfg.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
			test.mutate(&cfg)
			env := test.env
			if env == nil {
				env = core.Env{}
			}

			_, err := New(cfg, WithEnv(env))

			if test.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("expected %v, got %v", test.wantErr, err)
			}
			if !core.IsCode(err, core.CodeConfigError) || err.Error() != "Invalid config" {
				t.Errorf("expected CONFIG_ERROR \"Invalid config\", got %v", err)
			}
		})
	}
}

func TestGetServerSideSession(t *testing.T) {
	auth, _ := newTestAuth(t, nil)
	b := newBrowser(t, auth)
	b.post("signup", testEmail, testPassword)

	s, err := auth.GetServerSideSession(context.Background(), RawRequest{Cookies: b.jar})
	if err != nil || s.User == nil || *s.User.Email != testEmail {
		t.Fatalf("expected session for %s, got %+v (%v)", testEmail, s, err)
	}

	_, err = auth.GetServerSideSession(context.Background(), RawRequest{})
	if !core.IsCode(err, core.CodeNoSession) {
		t.Errorf("expected NO_SESSION, got %v", err)
	}
}

func TestModifySession(t *testing.T) {
	auth, _ := newTestAuth(t, nil)
	b := newBrowser(t, auth)
	b.post("signup", testEmail, testPassword)

	s, cookies, err := auth.ModifySession(context.Background(), RawRequest{Cookies: b.jar}, &User{Name: core.StringPtr("Test User")}, false)
	if err != nil {
		t.Fatalf("ModifySession failed: %v", err)
	}
	if *s.User.Name != "Test User" || *s.User.Email != testEmail {
		t.Errorf("patch must merge into the user, got %+v", s.User)
	}

	jar := map[string]string{}
	for _, c := range cookies {
		jar[c.Name] = c.Value
	}
	again, err := auth.GetServerSideSession(context.Background(), RawRequest{Cookies: jar})
	if err != nil || *again.User.Name != "Test User" {
		t.Errorf("modified session must persist in the cookie, got %+v (%v)", again, err)
	}
}
