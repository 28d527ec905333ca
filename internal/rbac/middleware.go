package rbac

import (
	"net/http"

	"github.com/meridian-cms/meridian/internal/shared"
)

// Middleware wires route authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer *Authorizer
	GuestID    int64
}

// RequireAny ensures the current principal holds at least one of the
// required capabilities.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principalID, authenticated := shared.PrincipalID(r.Context(), m.GuestID)
			if !authenticated {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if m.Authorizer.AuthorizeRoute(r.Context(), principalID, perms) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the current principal holds every required capability.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principalID, authenticated := shared.PrincipalID(r.Context(), m.GuestID)
			if !authenticated {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			for _, perm := range perms {
				if !m.Authorizer.AuthorizeRoute(r.Context(), principalID, []string{perm}) {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
