package middleware

import (
	"itdesk/internal/metrics"
	"itdesk/internal/models"
	"itdesk/internal/services"
	"net/http"
)

const CSRFHeader = "X-CSRF-Token"

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// CSRF rejects mutating requests whose header token does not match the
// cookie. The response is the same whichever half is missing.
func CSRF(guard *services.CSRFGuard, alerts AlertSink, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if !guard.Validate(r, r.Header.Get(CSRFHeader)) {
				m.CSRFFailure()
				alerts.Record(models.AlertCSRFFailed, models.SeverityCritical, map[string]any{
					"identity": ClientIdentity(r),
					"route":    route(r),
				})
				http.Error(w, `{"error":"invalid csrf token"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
