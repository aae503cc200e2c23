package services

import (
	"github.com/lborres/ironauth/core"
	"github.com/lborres/ironauth/pkg/crypto"
)

// CSRFBodyField is the body field the raw token is echoed back in.
const CSRFBodyField = "csrfToken"

// IssueCSRFToken sets the "{token}_{hash}" cookie on header and returns the
// raw token the client must echo back.
func IssueCSRFToken(cfg *core.ParsedConfig, header *core.Header) string {
	pair := crypto.GenerateHashedToken(cfg.CSRFSecret)
	header.SetCookie(cfg.Cookie(core.CookieCSRF).Cookie(pair.Value()))
	return pair.Token
}

// VerifyCSRFToken reports whether cookie was issued with the configured
// secret and carries rawToken.
func VerifyCSRFToken(cfg *core.ParsedConfig, cookie, rawToken string) bool {
	ok, err := crypto.VerifyToken(cookie, rawToken, cfg.CSRFSecret)
	return err == nil && ok
}

// VerifyCSRFForRequest checks the body token against the CSRF cookie.
func VerifyCSRFForRequest(req *core.Request, cfg *core.ParsedConfig) error {
	rawToken, ok := req.BodyString(CSRFBodyField)
	cookie, hasCookie := req.Cookie(cfg.Cookie(core.CookieCSRF))

	if !ok || !hasCookie {
		return invalidCSRFToken()
	}
	if !VerifyCSRFToken(cfg, cookie, rawToken) {
		return invalidCSRFToken()
	}
	return nil
}

func invalidCSRFToken() *core.Error {
	return core.NewError(core.CodeInvalidCSRFToken, "Invalid CSRF token")
}
