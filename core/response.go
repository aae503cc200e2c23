package core

import (
	"net/http"
	"net/url"
	"strings"
)

// Header collects the cookies set while handling one request.
type Header struct {
	cookies []*http.Cookie
}

func NewHeader() *Header {
	return &Header{}
}

// SetCookie adds c, replacing an earlier cookie with the same name.
func (h *Header) SetCookie(c *http.Cookie) {
	for i, existing := range h.cookies {
		if existing.Name == c.Name {
			h.cookies[i] = c
			return
		}
	}
	h.cookies = append(h.cookies, c)
}

func (h *Header) Cookies() []*http.Cookie {
	return h.cookies
}

// Response is the outcome of one route invocation before rendering.
type Response struct {
	RouteName string
	Code      Code
	Data      any
	Err       *Error
	Redirect  string
}

// ResolveCallback applies the configured redirects to a route outcome.
// Exactly one of resp and err is expected; err wins when both are set.
// It performs no I/O.
func ResolveCallback(cfg *ParsedConfig, resp *Response, err error) *Response {
	if err != nil {
		authErr := AsError(err)
		if cfg.Redirects.Error != nil {
			params := url.Values{}
			params.Set("error", string(authErr.Code))
			params.Set("message", authErr.Message)

			target := appendQuery(relativeOnly(cfg.Redirects.Error(authErr)), params)
			return &Response{
				Code:     CodeTemporaryRedirect,
				Data:     target,
				Redirect: target,
			}
		}

		return &Response{
			Code: authErr.Code,
			Data: authErr.Message,
			Err:  authErr,
		}
	}

	if resp == nil {
		return &Response{Code: CodeOK}
	}
	if resp.Redirect != "" {
		return resp
	}

	redirect := routeRedirect(cfg.Redirects, resp.RouteName)
	if redirect == nil {
		return resp
	}

	return &Response{
		RouteName: resp.RouteName,
		Code:      CodeTemporaryRedirect,
		Data:      resp.Data,
		Redirect:  relativeOnly(redirect(resp.Data)),
	}
}

func routeRedirect(r Redirects, route string) Redirect {
	switch route {
	case string(MethodSignIn):
		return r.SignIn
	case string(MethodSignUp):
		return r.SignUp
	case "signout":
		return r.SignOut
	case string(MethodLinkAccount):
		return r.LinkAccount
	}
	return nil
}

// relativeOnly forces anything but a same-origin path to "/".
func relativeOnly(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return "/"
	}
	return target
}

func appendQuery(target string, params url.Values) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + params.Encode()
}

// Envelope is the JSON body of every non-redirect response.
type Envelope struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is a fully rendered response, ready for a transport to write.
type Result struct {
	Status   int
	Body     *Envelope
	Redirect string
	Cookies  []*http.Cookie
}

// IsRedirect reports whether the result is a redirect rather than a body.
func (r Result) IsRedirect() bool {
	return r.Redirect != ""
}

// Render turns a resolved Response into a Result carrying header's cookies.
func Render(resp *Response, header *Header) Result {
	var cookies []*http.Cookie
	if header != nil {
		cookies = header.Cookies()
	}

	switch {
	case resp.Redirect != "":
		return Result{Status: http.StatusFound, Redirect: resp.Redirect, Cookies: cookies}
	case resp.Err != nil:
		return Result{
			Status:  resp.Err.Status(),
			Body:    &Envelope{Success: false, Code: resp.Err.Code, Error: resp.Err.Message},
			Cookies: cookies,
		}
	}

	return Result{
		Status:  http.StatusOK,
		Body:    &Envelope{Success: true, Code: CodeOK, Data: resp.Data},
		Cookies: cookies,
	}
}
