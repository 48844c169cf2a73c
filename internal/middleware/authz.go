package middleware

import (
	"itdesk/internal/authz"
	"itdesk/internal/metrics"
	"net/http"
)

// Require gates the handler on the role decision table. It must be mounted
// after the session middleware.
func Require(resource authz.Resource, action authz.Action, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			if !authz.Allowed(id.Role, resource, action) {
				m.AuthzDenied(string(resource), string(action))
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
