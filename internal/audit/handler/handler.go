// Package handler exposes the audit log to operators.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/audit-mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/httputil"
	request "kycvault/pkg/platform/middleware/request"
)

type Service interface {
	ListByTarget(ctx context.Context, target string) ([]audit.Event, error)
}

type Handler struct {
	logger *slog.Logger
	audit  Service
}

func New(audit Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, audit: audit}
}

// Register mounts the admin routes. The caller wraps r with the admin token
// guard.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/audit", h.handleListAudit)
}

// EventResponse is one audit event.
type EventResponse struct {
	ID        string            `json:"id"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Target    string            `json:"target"`
	Category  string            `json:"category"`
	Timestamp time.Time         `json:"ts"`
	Meta      map[string]string `json:"meta,omitempty"`
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	events, err := h.audit.ListByTarget(ctx, r.URL.Query().Get("target"))
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to list audit events", "request_id", requestID, "error", err)
		} else {
			h.logger.WarnContext(ctx, "failed to list audit events", "request_id", requestID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			ID:        e.ID.String(),
			Actor:     e.Actor,
			Action:    string(e.Action),
			Target:    e.Target,
			Category:  string(e.Category()),
			Timestamp: e.Timestamp,
			Meta:      e.Meta,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}
