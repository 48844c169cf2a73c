package handlers

import (
	"context"
	"encoding/json"
	"itdesk/internal/middleware"
	"itdesk/internal/models"
	"net/http"
	"time"
)

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.Identity, error)
}

type SessionHandler struct {
	verifier     TokenVerifier
	secureCookie bool
}

func NewSessionHandler(verifier TokenVerifier, secureCookie bool) *SessionHandler {
	return &SessionHandler{verifier: verifier, secureCookie: secureCookie}
}

// Create stores a verified provider access token in the session cookie.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	id, err := h.verifier.Verify(r.Context(), req.AccessToken)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    req.AccessToken,
		Path:     "/",
		Expires:  id.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(id)
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
