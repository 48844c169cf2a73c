package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"itdesk/internal/errs"
	"itdesk/internal/middleware"
	"itdesk/internal/models"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const accessLogLimit = 20

type CredentialVault interface {
	Reveal(ctx context.Context, id, userID string) (*models.RevealedCredential, error)
	RecentAccess(ctx context.Context, id string, limit int) ([]*models.DocAccessLog, error)
}

type DocsHandler struct {
	vault CredentialVault
	log   *zap.Logger
}

func NewDocsHandler(vault CredentialVault, log *zap.Logger) *DocsHandler {
	return &DocsHandler{vault: vault, log: log}
}

// Reveal returns the decrypted secret of a credential document. The access is
// logged before the secret leaves the server.
func (h *DocsHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	secret, err := h.vault.Reveal(r.Context(), id, caller.UserID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, `{"error":"document not found"}`, http.StatusNotFound)
		return
	case errors.Is(err, errs.ErrNotCredential):
		http.Error(w, `{"error":"document is not a credential"}`, http.StatusBadRequest)
		return
	case err != nil:
		h.log.Error("reveal credential",
			zap.String("document_id", id),
			zap.String("user_id", caller.UserID),
			zap.Error(err),
		)
		http.Error(w, `{"error":"failed to reveal credential"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(secret)
}

func (h *DocsHandler) AccessLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logs, err := h.vault.RecentAccess(r.Context(), id, accessLogLimit)
	if err != nil {
		h.log.Error("list access log", zap.String("document_id", id), zap.Error(err))
		http.Error(w, `{"error":"failed to list access log"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
