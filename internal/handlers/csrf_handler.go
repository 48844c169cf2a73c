package handlers

import (
	"encoding/json"
	"itdesk/internal/models"
	"itdesk/internal/services"
	"net/http"
)

type CSRFHandler struct {
	guard *services.CSRFGuard
}

func NewCSRFHandler(guard *services.CSRFGuard) *CSRFHandler {
	return &CSRFHandler{guard: guard}
}

// Issue sets a fresh token cookie and echoes the token for the caller to send
// back in the X-CSRF-Token header.
func (h *CSRFHandler) Issue(w http.ResponseWriter, r *http.Request) {
	token, err := h.guard.Issue(w)
	if err != nil {
		http.Error(w, `{"error":"failed to issue csrf token"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(models.CSRFTokenResponse{CSRFToken: token})
}
