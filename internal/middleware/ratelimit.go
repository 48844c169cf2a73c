package middleware

import (
	"itdesk/internal/models"
	"itdesk/internal/services"
	"net/http"
	"strconv"
)

func RateLimiting(limiter *services.RateLimiter, class models.RouteClass, alerts AlertSink) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ClientIdentity(r)
			decision := limiter.Check(r.Context(), identity, class)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				alerts.Record(models.AlertRateLimitExceeded, models.SeverityHigh, map[string]any{
					"identity": identity,
					"route":    route(r),
					"class":    string(class),
					"count":    decision.Count,
				})
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
