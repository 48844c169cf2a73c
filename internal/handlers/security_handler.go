package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"itdesk/internal/models"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const streamInterval = 5 * time.Second

type AlertReader interface {
	Recent(ctx context.Context, limit int) ([]*models.SecurityAlert, error)
	Since(ctx context.Context, afterID int64) ([]*models.SecurityAlert, error)
}

type SecurityHandler struct {
	alerts   AlertReader
	log      *zap.Logger
	interval time.Duration
}

func NewSecurityHandler(alerts AlertReader, log *zap.Logger) *SecurityHandler {
	return &SecurityHandler{alerts: alerts, log: log, interval: streamInterval}
}

// WithInterval sets how often StreamAlerts polls for new alerts.
func (h *SecurityHandler) WithInterval(d time.Duration) *SecurityHandler {
	if d > 0 {
		h.interval = d
	}
	return h
}

func (h *SecurityHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	alerts, err := h.alerts.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error("list security alerts", zap.Error(err))
		http.Error(w, `{"error":"failed to list security alerts"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

// StreamAlerts pushes newly persisted alerts as server-sent events. Clients
// resume with Last-Event-ID.
func (h *SecurityHandler) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	var lastID int64
	if s := r.Header.Get("Last-Event-ID"); s != "" {
		lastID, _ = strconv.ParseInt(s, 10, 64)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			alerts, err := h.alerts.Since(r.Context(), lastID)
			if err != nil {
				continue
			}

			for _, a := range alerts {
				data, err := json.Marshal(a)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "id: %d\ndata: %s\n\n", a.ID, data)
				lastID = a.ID
			}
			if len(alerts) > 0 {
				flusher.Flush()
			}
		}
	}
}
