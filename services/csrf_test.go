package services

import (
	"strings"
	"testing"

	"github.com/lborres/ironauth/core"
	"github.com/lborres/ironauth/pkg/crypto"
)

// Requirement: issuance sets "{t}_{h}" with h = Hash(t + secret) and returns t.
func TestIssueCSRFToken(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	header := core.NewHeader()

	// Act
	token := IssueCSRFToken(h.cfg, header)

	// Assert
	cookies := header.Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	if cookies[0].Name != "__Host-iron-auth.csrf" {
		t.Errorf("unexpected cookie name %q", cookies[0].Name)
	}
	rawToken, hash, ok := strings.Cut(cookies[0].Value, "_")
	if !ok || rawToken != token {
		t.Fatalf("cookie %q does not carry token %q", cookies[0].Value, token)
	}
	if hash != crypto.Hash(token+h.cfg.CSRFSecret) {
		t.Error("cookie hash must be Hash(token + csrf secret)")
	}
	if cookies[0].MaxAge != 15*60 || !cookies[0].HttpOnly {
		t.Errorf("csrf cookie policy not applied: %+v", cookies[0])
	}
}

func TestIssueCSRFToken_Distinct(t *testing.T) {
	h := newHarness(t, nil)

	first := IssueCSRFToken(h.cfg, core.NewHeader())
	second := IssueCSRFToken(h.cfg, core.NewHeader())

	if first == second {
		t.Error("each issuance must produce a new token")
	}
}

// Requirement: verification needs the body token, the cookie, a matching
// hash and token equality.
func TestVerifyCSRFForRequest(t *testing.T) {
	h := newHarness(t, nil)
	token, jar := h.csrf(t)
	cookieName := h.cfg.Cookie(core.CookieCSRF).CookieName()
	cookie := jar[cookieName]
	_, hash, _ := strings.Cut(cookie, "_")

	tests := []struct {
		name    string
		body    map[string]any
		cookies map[string]string
		wantErr bool
	}{
		{name: "valid", body: map[string]any{"csrfToken": token}, cookies: jar},
		{name: "missing body token", body: map[string]any{}, cookies: jar, wantErr: true},
		{name: "non-string body token", body: map[string]any{"csrfToken": 1.0}, cookies: jar, wantErr: true},
		{name: "missing cookie", body: map[string]any{"csrfToken": token}, cookies: map[string]string{}, wantErr: true},
		{name: "other token", body: map[string]any{"csrfToken": token + "x"}, cookies: jar, wantErr: true},
		{
			name:    "tampered hash",
			body:    map[string]any{"csrfToken": token},
			cookies: map[string]string{cookieName: token + "_" + strings.Repeat("0", 64)},
			wantErr: true,
		},
		{
			name:    "forged token with reused hash",
			body:    map[string]any{"csrfToken": "forged"},
			cookies: map[string]string{cookieName: "forged_" + hash},
			wantErr: true,
		},
		{
			name:    "no separator",
			body:    map[string]any{"csrfToken": token},
			cookies: map[string]string{cookieName: token},
			wantErr: true,
		},
		{
			name:    "unprefixed cookie name",
			body:    map[string]any{"csrfToken": token},
			cookies: map[string]string{"iron-auth.csrf": cookie},
			wantErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			req := core.Normalize(core.RawRequest{Method: "POST", Body: test.body, Cookies: test.cookies})

			err := VerifyCSRFForRequest(req, h.cfg)

			if (err != nil) != test.wantErr {
				t.Fatalf("VerifyCSRFForRequest() error = %v, wantErr %v", err, test.wantErr)
			}
			if err != nil && !core.IsCode(err, core.CodeInvalidCSRFToken) {
				t.Errorf("expected INVALID_CSRF_TOKEN, got %v", err)
			}
		})
	}
}

// Requirement: with secure=false the cookie name is not prefixed.
func TestCSRFCookie_NoPrefixWhenInsecure(t *testing.T) {
	insecure := false
	h := newHarness(t, func(cfg *core.Config) {
		cfg.Cookies = map[core.CookieKind]core.CookieOptions{core.CookieCSRF: {Secure: &insecure}}
	})
	header := core.NewHeader()

	token := IssueCSRFToken(h.cfg, header)
	c := header.Cookies()[0]
	req := core.Normalize(core.RawRequest{
		Method: "POST",
		Body:   map[string]any{"csrfToken": token},
		Header: map[string][]string{"Cookie": {"other=1; " + c.Name + "=" + c.Value}},
	})

	if c.Name != "iron-auth.csrf" {
		t.Errorf("unexpected cookie name %q", c.Name)
	}
	if err := VerifyCSRFForRequest(req, h.cfg); err != nil {
		t.Errorf("expected token read from the Cookie header to verify, got %v", err)
	}
}
