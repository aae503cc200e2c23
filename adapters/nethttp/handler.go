// Package nethttp serves IronAuth on net/http, mounted on a chi router or
// any other mux.
package nethttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lborres/ironauth"
	"github.com/lborres/ironauth/core"
)

// Handler runs every request through auth. Under chi the route token is
// taken from the wildcard parameter, otherwise from the last path segment.
func Handler(auth *ironauth.IronAuth) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := auth.Handle(r.Context(), rawRequest(r))
		writeResult(w, r, result)
	})
}

// Mount serves the auth routes on r under the instance's base path.
func Mount(r chi.Router, auth *ironauth.IronAuth) {
	h := Handler(auth)
	r.Route(auth.BasePath(), func(r chi.Router) {
		r.Handle("/*", h)
	})
}

func rawRequest(r *http.Request) ironauth.RawRequest {
	return ironauth.RawRequest{
		Method:     r.Method,
		URL:        r.URL.RequestURI(),
		RouteParam: chi.URLParam(r, "*"),
		Header:     r.Header,
		Body:       r.Body,
	}
}

func writeResult(w http.ResponseWriter, r *http.Request, result ironauth.Result) {
	for _, c := range result.Cookies {
		http.SetCookie(w, c)
	}

	if result.IsRedirect() {
		http.Redirect(w, r, result.Redirect, result.Status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	_ = json.NewEncoder(w).Encode(result.Body)
}

type sessionContextKey struct{}

// RequireSession rejects requests without a valid session cookie and makes
// the session available to next through SessionFrom.
func RequireSession(auth *ironauth.IronAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// the body is left for next
			session, err := auth.GetServerSideSession(r.Context(), ironauth.RawRequest{
				Method: r.Method,
				URL:    r.URL.RequestURI(),
				Header: r.Header,
			})
			if err != nil {
				authErr := core.AsError(err)
				writeResult(w, r, ironauth.Result{
					Status: authErr.Status(),
					Body:   &core.Envelope{Code: authErr.Code, Error: authErr.Message},
				})
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFrom returns the session stored by RequireSession.
func SessionFrom(ctx context.Context) (*ironauth.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*ironauth.Session)
	return s, ok
}
