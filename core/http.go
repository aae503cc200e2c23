package core

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// RouteKey is the query key the route token is carried under.
const RouteKey = "ironauth"

const maxBodyBytes = 1 << 20

// RawRequest is what an HTTP runtime hands over before normalization. Only
// the fields the runtime has need to be set.
type RawRequest struct {
	Method string
	URL    string

	// RouteParam is the route token when the runtime's router extracted it.
	// A catch-all value such as "ironauth/signin" is split on "/".
	RouteParam string

	// Query is a pre-parsed query. When nil the query string of URL is used.
	Query url.Values

	// Cookies is a structured cookie jar. When nil the Cookie header is parsed.
	Cookies map[string]string
	Header  http.Header

	// Body may be []byte, string, json.RawMessage, map[string]any or an
	// io.Reader. Anything else is treated as an empty body.
	Body any
}

// Request is the canonical request every route sees. It is not modified
// after Normalize returns.
type Request struct {
	Method  string
	URL     string
	Path    string
	Query   url.Values
	Body    map[string]any
	Cookies map[string]string
	Header  http.Header
}

// Normalize converts raw into a Request. It never fails: a malformed body
// becomes an empty map and a malformed URL an empty query.
func Normalize(raw RawRequest) *Request {
	method := strings.ToUpper(raw.Method)
	if method == "" {
		method = http.MethodGet
	}

	header := raw.Header
	if header == nil {
		header = http.Header{}
	}

	query := normalizeQuery(raw)
	path := routePath(raw, query)
	if len(query[RouteKey]) == 0 && path != "" {
		query.Set(RouteKey, path)
	}

	return &Request{
		Method:  method,
		URL:     raw.URL,
		Path:    path,
		Query:   query,
		Body:    normalizeBody(raw.Body),
		Cookies: normalizeCookies(raw.Cookies, header),
		Header:  header,
	}
}

func normalizeQuery(raw RawRequest) url.Values {
	query := url.Values{}
	if raw.Query != nil {
		for k, v := range raw.Query {
			query[k] = append([]string(nil), v...)
		}
	} else if _, rawQuery, ok := strings.Cut(raw.URL, "?"); ok {
		if parsed, err := url.ParseQuery(rawQuery); err == nil {
			query = parsed
		}
	}

	if raw.RouteParam != "" {
		query[RouteKey] = splitSegments(raw.RouteParam)
	}
	return query
}

// routePath is the explicit route token, else the last token under the
// route key, else the last non-empty URL segment.
func routePath(raw RawRequest, query url.Values) string {
	if tokens := query[RouteKey]; len(tokens) > 0 {
		return tokens[len(tokens)-1]
	}

	p, _, _ := strings.Cut(raw.URL, "?")
	if u, err := url.Parse(p); err == nil {
		p = u.Path
	}
	segments := splitSegments(p)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

func splitSegments(p string) []string {
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func normalizeBody(body any) map[string]any {
	var data []byte
	switch b := body.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if b == nil {
			return map[string]any{}
		}
		return b
	case []byte:
		data = b
	case json.RawMessage:
		data = b
	case string:
		data = []byte(b)
	case io.Reader:
		read, err := io.ReadAll(io.LimitReader(b, maxBodyBytes))
		if err != nil {
			return map[string]any{}
		}
		data = read
	default:
		return map[string]any{}
	}

	parsed := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return parsed
	}
	if err := json.Unmarshal(data, &parsed); err != nil || parsed == nil {
		return map[string]any{}
	}
	return parsed
}

func normalizeCookies(jar map[string]string, header http.Header) map[string]string {
	cookies := map[string]string{}
	if jar != nil {
		for k, v := range jar {
			cookies[k] = v
		}
		return cookies
	}

	for _, line := range header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || key == "" || value == "" {
				continue
			}
			cookies[key] = value
		}
	}
	return cookies
}

// QueryString returns the single value of key. Repeated keys yield "".
func (r *Request) QueryString(key string) string {
	values := r.Query[key]
	if len(values) != 1 {
		return ""
	}
	return values[0]
}

// BodyString returns the body field key when it is a string.
func (r *Request) BodyString(key string) (string, bool) {
	v, ok := r.Body[key].(string)
	return v, ok
}

// Cookie returns the value of the cookie described by policy.
func (r *Request) Cookie(policy CookiePolicy) (string, bool) {
	v, ok := r.Cookies[policy.CookieName()]
	return v, ok && v != ""
}
