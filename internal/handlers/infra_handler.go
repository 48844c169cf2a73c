package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"itdesk/internal/diagram"
	"itdesk/internal/errs"
	"itdesk/internal/models"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxNameLen = 255

type DiagramStore interface {
	List(ctx context.Context) ([]*models.Diagram, error)
	Save(ctx context.Context, req *models.SaveDiagramRequest) (*models.Diagram, error)
	Delete(ctx context.Context, id string) error
}

type InfraHandler struct {
	store DiagramStore
	log   *zap.Logger
}

func NewInfraHandler(store DiagramStore, log *zap.Logger) *InfraHandler {
	return &InfraHandler{store: store, log: log}
}

func (h *InfraHandler) List(w http.ResponseWriter, r *http.Request) {
	diagrams, err := h.store.List(r.Context())
	if err != nil {
		h.log.Error("list diagrams", zap.Error(err))
		http.Error(w, `{"error":"failed to list diagrams"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(diagrams)
}

// Save creates the diagram when no id is given and replaces it otherwise.
func (h *InfraHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req models.SaveDiagramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := validateDiagram(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.store.Save(r.Context(), &req)
	if err != nil {
		h.log.Error("save diagram", zap.Error(err))
		http.Error(w, `{"error":"failed to save diagram"}`, http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if req.ID == nil {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(saved)
}

func (h *InfraHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, `{"error":"invalid diagram ID"}`, http.StatusBadRequest)
		return
	}

	err := h.store.Delete(r.Context(), id)
	if errors.Is(err, errs.ErrNotFound) {
		http.Error(w, `{"error":"diagram not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("delete diagram", zap.String("diagram_id", id), zap.Error(err))
		http.Error(w, `{"error":"failed to delete diagram"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// sanitize strips HTML tags and surrounding whitespace.
func sanitize(s string) string {
	return strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
}

// validateDiagram sanitizes the name in place and checks that data holds a
// decodable element list.
func validateDiagram(req *models.SaveDiagramRequest) error {
	req.Name = sanitize(req.Name)
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", errs.ErrInvalidInput)
	}
	if utf8.RuneCountInString(req.Name) > maxNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", errs.ErrInvalidInput, maxNameLen)
	}
	if req.ID != nil && *req.ID == "" {
		req.ID = nil
	}

	if strings.TrimSpace(req.Data) == "" {
		return fmt.Errorf("%w: data is required", errs.ErrInvalidInput)
	}
	if _, err := diagram.Decode([]byte(req.Data)); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg})
}
