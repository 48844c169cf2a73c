package middleware

import (
	"context"
	"itdesk/internal/models"
	"net/http"
	"strings"
)

type contextKey string

const identityContextKey contextKey = "identity"

// UnknownClient is the identity shared by every request without a
// forwarded client address.
const UnknownClient = "unknown"

func WithIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*models.Identity)
	return id, ok && id != nil
}

// ClientIdentity keys rate limits and alerts by the first X-Forwarded-For
// entry. Callers behind no proxy all share UnknownClient.
func ClientIdentity(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return UnknownClient
	}
	first, _, _ := strings.Cut(xff, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return UnknownClient
}

func route(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// AlertSink receives security alerts raised by the pipeline.
type AlertSink interface {
	Record(alertType string, severity models.Severity, details map[string]any)
}
