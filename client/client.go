// Package client calls an IronAuth server the way a browser tab does: it
// keeps cookies, fetches a CSRF token before every POST and announces session
// changes on a broadcast channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/lborres/ironauth/broadcast"
	"github.com/lborres/ironauth/core"
)

var (
	ErrInvalidResponse = errors.New("client: invalid response")
	ErrRedirected      = errors.New("client: server answered with a redirect")
	ErrNoCSRFToken     = errors.New("client: failed to fetch CSRF token")
)

// Client talks to the auth routes under one base URL.
type Client struct {
	baseURL string
	http    *http.Client
	channel *broadcast.Channel
}

type Option func(*Client)

// WithHTTPClient sets the underlying client. Its transport and timeout are
// kept; a cookie jar is added when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			copied := *hc
			c.http = &copied
		}
	}
}

// WithChannel announces successful session changes on channel.
func WithChannel(channel *broadcast.Channel) Option {
	return func(c *Client) { c.channel = channel }
}

// New creates a client for the auth routes at baseURL, e.g.
// "https://app.example.com/api/auth".
func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("client: invalid base url: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	c.http.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c, nil
}

// GetCSRFToken fetches a new CSRF token and its cookie.
func (c *Client) GetCSRFToken(ctx context.Context) (string, error) {
	var token string
	if err := c.get(ctx, "csrf", &token); err != nil {
		return "", err
	}
	return token, nil
}

// GetSession returns the current session. With notify set, a
// session-updated event is announced.
func (c *Client) GetSession(ctx context.Context, notify bool) (*core.Session, error) {
	var session core.Session
	if err := c.get(ctx, "session", &session); err != nil {
		return nil, err
	}
	if notify && session.User != nil {
		c.notify(ctx, broadcast.Event{Event: broadcast.EventSessionUpdated, UserID: session.User.ID})
	}
	return &session, nil
}

// SignUp creates an account with the provider and signs in.
func (c *Client) SignUp(ctx context.Context, typ core.ProviderType, providerID string, data map[string]any) (*core.User, error) {
	var user core.User
	if err := c.post(ctx, "signup", typ, providerID, data, &user); err != nil {
		return nil, err
	}
	c.notify(ctx, broadcast.Event{Event: broadcast.EventSignUp, UserID: user.ID})
	return &user, nil
}

func (c *Client) SignIn(ctx context.Context, typ core.ProviderType, providerID string, data map[string]any) (*core.User, error) {
	var user core.User
	if err := c.post(ctx, "signin", typ, providerID, data, &user); err != nil {
		return nil, err
	}
	c.notify(ctx, broadcast.Event{Event: broadcast.EventSignIn, UserID: user.ID})
	return &user, nil
}

func (c *Client) SignOut(ctx context.Context) (bool, error) {
	var ok bool
	if err := c.post(ctx, "signout", "", "", nil, &ok); err != nil {
		return false, err
	}
	if ok {
		c.notify(ctx, broadcast.Event{Event: broadcast.EventSignOut})
	}
	return ok, nil
}

// LinkAccount attaches another account to the signed-in user.
func (c *Client) LinkAccount(ctx context.Context, typ core.ProviderType, providerID string, data map[string]any) (*core.User, error) {
	var user core.User
	if err := c.post(ctx, "linkaccount", typ, providerID, data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) notify(ctx context.Context, ev broadcast.Event) {
	if c.channel == nil {
		return
	}
	// delivery failures to other tabs do not undo the request
	_ = c.channel.Notify(ctx, ev)
}

func (c *Client) get(ctx context.Context, route string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+route, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, route string, typ core.ProviderType, providerID string, data map[string]any, out any) error {
	token, err := c.GetCSRFToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoCSRFToken, err)
	}
	if token == "" {
		return ErrNoCSRFToken
	}

	body := make(map[string]any, len(data)+1)
	for k, v := range data {
		body[k] = v
	}
	body["csrfToken"] = token
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	target := c.baseURL + "/" + route
	if typ != "" && providerID != "" {
		target += "?" + url.Values{"type": {string(typ)}, "providerId": {providerID}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// envelope mirrors core.Envelope with the data left encoded.
type envelope struct {
	Success bool            `json:"success"`
	Code    core.Code       `json:"code"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// do sends req and decodes the envelope data into out. A failure envelope is
// returned as a *core.Error.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return fmt.Errorf("%w: %s", ErrRedirected, resp.Header.Get("Location"))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}
	if !env.Success {
		return core.NewError(env.Code, env.Error)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s response data not found", ErrInvalidResponse, req.URL.Path)
	}
	return json.Unmarshal(env.Data, out)
}
