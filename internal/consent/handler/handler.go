// Package handler exposes consent grants over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/consent-mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kycvault/internal/consent/service"
	"kycvault/internal/domain"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/httputil"
	request "kycvault/pkg/platform/middleware/request"
)

// Service defines the interface for consent operations.
type Service interface {
	Grant(ctx context.Context, in service.GrantInput) (*domain.Consent, error)
	Revoke(ctx context.Context, consentID id.ConsentID) error
	Get(ctx context.Context, consentID id.ConsentID) (*domain.Consent, error)
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]*domain.Consent, error)
}

// Handler handles consent-related endpoints.
type Handler struct {
	logger  *slog.Logger
	consent Service
}

// New creates a new consent Handler.
func New(consent Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:  logger,
		consent: consent,
	}
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Post("/consents", h.handleGrantConsent)
		r.Post("/consents/{consent_id}/revoke", h.handleRevokeConsent)
		r.Get("/consents/{consent_id}", h.handleGetConsent)
		r.Get("/profiles/{profile_id}/consents", h.handleListConsents)
	})
}

// GrantConsentRequest is the JSON body of POST /consents.
type GrantConsentRequest struct {
	ProfileID    string   `json:"profile_id"`
	GrantedTo    string   `json:"granted_to"`
	Scope        []string `json:"scope"`
	DurationDays int      `json:"duration_days"`
	Purpose      string   `json:"purpose"`
}

func (r *GrantConsentRequest) Validate() error {
	if r.ProfileID == "" {
		return dErrors.New(dErrors.CodeValidation, "profile_id is required")
	}
	if r.GrantedTo == "" {
		return dErrors.New(dErrors.CodeValidation, "granted_to is required")
	}
	if len(r.Scope) == 0 {
		return dErrors.New(dErrors.CodeValidation, "scope must not be empty")
	}
	if r.DurationDays <= 0 {
		return dErrors.New(dErrors.CodeValidation, "duration_days must be positive")
	}
	return nil
}

// GrantConsentResponse is returned on a successful grant.
type GrantConsentResponse struct {
	ConsentID string `json:"consent_id"`
}

// ConsentResponse describes a stored consent.
type ConsentResponse struct {
	ConsentID   string     `json:"consent_id"`
	ProfileID   string     `json:"profile_id"`
	GrantedTo   string     `json:"granted_to"`
	Scope       []string   `json:"scope"`
	Purpose     string     `json:"purpose"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	ConsentText string     `json:"consent_text"`
}

func toResponse(c *domain.Consent) ConsentResponse {
	scope := make([]string, len(c.Scope))
	for i, attr := range c.Scope {
		scope[i] = attr.String()
	}
	return ConsentResponse{
		ConsentID:   c.ID.String(),
		ProfileID:   c.ProfileID.String(),
		GrantedTo:   c.GrantedTo,
		Scope:       scope,
		Purpose:     c.Purpose,
		GrantedAt:   c.GrantedAt,
		ExpiresAt:   c.ExpiresAt,
		RevokedAt:   c.RevokedAt,
		ConsentText: c.ConsentText,
	}
}

// handleGrantConsent grants consent over a profile to one recipient.
func (h *Handler) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[GrantConsentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	profileID, err := id.ParseProfileID(req.ProfileID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	consent, err := h.consent.Grant(ctx, service.GrantInput{
		ProfileID:    profileID,
		GrantedTo:    req.GrantedTo,
		Scope:        req.Scope,
		DurationDays: req.DurationDays,
		Purpose:      req.Purpose,
	})
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "failed to grant consent", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, GrantConsentResponse{ConsentID: consent.ID.String()})
}

func (h *Handler) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	consentID, err := id.ParseConsentID(chi.URLParam(r, "consent_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.consent.Revoke(ctx, consentID); err != nil {
		h.writeServiceError(ctx, w, requestID, "failed to revoke consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleGetConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	consentID, err := id.ParseConsentID(chi.URLParam(r, "consent_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	consent, err := h.consent.Get(ctx, consentID)
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "failed to load consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(consent))
}

func (h *Handler) handleListConsents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	profileID, err := id.ParseProfileID(chi.URLParam(r, "profile_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	consents, err := h.consent.ListByProfile(ctx, profileID)
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "failed to list consents", err)
		return
	}
	out := make([]ConsentResponse, 0, len(consents))
	for _, c := range consents {
		out = append(out, toResponse(c))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"consents": out})
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, requestID, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
	}
	httputil.WriteError(w, err)
}
