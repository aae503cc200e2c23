package services

import (
	"context"
	"sync"
	"testing"

	"github.com/lborres/ironauth/adapters/memory"
	"github.com/lborres/ironauth/core"
	"github.com/lborres/ironauth/providers"
)

// FakeSessionStore is a test-only fake implementing core.SessionStore.
// It holds a single session and exposes error fields for behavior injection.
type FakeSessionStore struct {
	mu      sync.Mutex
	session *core.Session

	saves    int
	destroys int

	readErr    error
	saveErr    error
	destroyErr error
}

func NewFakeSessionStore() *FakeSessionStore {
	return &FakeSessionStore{}
}

func (f *FakeSessionStore) Read(ctx context.Context, req *core.Request) (*core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.session == nil {
		return &core.Session{}, nil
	}
	s := *f.session
	return &s, nil
}

func (f *FakeSessionStore) Save(ctx context.Context, session *core.Session, header *core.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	s := *session
	f.session = &s
	f.saves++
	return nil
}

func (f *FakeSessionStore) Destroy(ctx context.Context, header *core.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyErr != nil {
		return f.destroyErr
	}
	f.session = nil
	f.destroys++
	return nil
}

func (f *FakeSessionStore) SignedInAs(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = &core.Session{User: &core.User{ID: id}}
}

func (f *FakeSessionStore) Current() *core.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

const (
	testEmail    = "test@example.com"
	testPassword = "Passw0rd!"
)

type harness struct {
	cfg      *core.ParsedConfig
	adapter  *memory.Adapter
	sessions *FakeSessionStore
	router   *Router
}

func newHarness(t *testing.T, mutate func(*core.Config)) *harness {
	t.Helper()

	adapter := memory.New()
	cfg := core.Config{
		Adapter:   adapter,
		Providers: []core.Provider{providers.Credentials()},
		Secrets: core.Secrets{
			IronPassword: "0123456789abcdef0123456789abcdef",
			Encryption:   "encryption-secret",
			CSRF:         "csrf-secret",
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	parsed, err := core.ParseConfig(cfg, nil)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	sessions := NewFakeSessionStore()
	router, err := NewRouter(parsed, sessions, NewAuthService(sessions, nil))
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	return &harness{cfg: parsed, adapter: adapter, sessions: sessions, router: router}
}

// csrf issues a token and returns it with the cookie jar carrying it.
func (h *harness) csrf(t *testing.T) (string, map[string]string) {
	t.Helper()
	header := core.NewHeader()
	token := IssueCSRFToken(h.cfg, header)

	jar := map[string]string{}
	for _, c := range header.Cookies() {
		jar[c.Name] = c.Value
	}
	return token, jar
}

// post sends an authenticated POST to route with a valid CSRF token.
func (h *harness) post(t *testing.T, route string, body map[string]any) (*core.Response, *core.Header, error) {
	t.Helper()
	token, jar := h.csrf(t)

	if body == nil {
		body = map[string]any{}
	}
	body[CSRFBodyField] = token

	return h.dispatch(core.RawRequest{
		Method:  "POST",
		URL:     "/api/auth/" + route + "?type=credentials&providerId=" + providers.CredentialsID,
		Cookies: jar,
		Body:    body,
	})
}

func (h *harness) dispatch(raw core.RawRequest) (*core.Response, *core.Header, error) {
	header := core.NewHeader()
	resp, err := h.router.Dispatch(context.Background(), core.Normalize(raw), header)
	return resp, header, err
}

func credentials(email, password string) map[string]any {
	return map[string]any{"email": email, "password": password}
}
