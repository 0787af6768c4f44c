// Package handler exposes token issuance, resolution, revocation and
// signature verification over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/token-mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kycvault/internal/domain"
	"kycvault/internal/signature"
	"kycvault/internal/token/service"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/httputil"
	request "kycvault/pkg/platform/middleware/request"
)

// Service defines the interface for token operations.
type Service interface {
	Issue(ctx context.Context, in service.IssueInput) (*domain.Token, error)
	Resolve(ctx context.Context, tokenID id.TokenID, requester string) (*service.Projection, error)
	Revoke(ctx context.Context, tokenID id.TokenID) error
	Verify(ctx context.Context, compact string) (signature.Payload, error)
}

// Handler handles token endpoints.
type Handler struct {
	logger       *slog.Logger
	tokens       Service
	resolveGuard func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithResolveGuard wraps GET /resolve/{token_id}, typically with the
// per-requester rate limiter.
func WithResolveGuard(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.resolveGuard = mw }
}

// New creates a new token Handler.
func New(tokens Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger: logger,
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the token routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Post("/tokens", h.handleIssueToken)
		r.Post("/tokens/verify", h.handleVerifyToken)
		r.Post("/tokens/{token_id}/revoke", h.handleRevokeToken)
	})
	r.Group(func(r chi.Router) {
		if h.resolveGuard != nil {
			r.Use(h.resolveGuard)
		}
		r.Get("/resolve/{token_id}", h.handleResolveToken)
	})
}

// IssueTokenRequest is the JSON body of POST /tokens.
type IssueTokenRequest struct {
	ProfileID string `json:"profile_id"`
	ConsentID string `json:"consent_id"`
	Recipient string `json:"recipient"`
	TTLHours  int    `json:"ttl_hours"`
}

func (r *IssueTokenRequest) Validate() error {
	if r.ProfileID == "" {
		return dErrors.New(dErrors.CodeValidation, "profile_id is required")
	}
	if r.ConsentID == "" {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	if r.Recipient == "" {
		return dErrors.New(dErrors.CodeValidation, "recipient is required")
	}
	if r.TTLHours < 0 {
		return dErrors.New(dErrors.CodeValidation, "ttl_hours must not be negative")
	}
	return nil
}

// IssueTokenResponse is returned on successful issuance.
type IssueTokenResponse struct {
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Signature string    `json:"signature"`
}

// VerifyTokenRequest is the JSON body of POST /tokens/verify.
type VerifyTokenRequest struct {
	Signature string `json:"signature"`
}

func (r *VerifyTokenRequest) Validate() error {
	if r.Signature == "" {
		return dErrors.New(dErrors.CodeValidation, "signature is required")
	}
	return nil
}

// VerifyTokenResponse is the decoded payload of a valid signature.
type VerifyTokenResponse struct {
	ProfileID string    `json:"profile_id"`
	ConsentID string    `json:"consent_id"`
	Recipient string    `json:"recipient"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResolveResponse is the scoped projection of a profile.
type ResolveResponse struct {
	ProfileID     string `json:"profile_id"`
	CanonicalName string `json:"canonical_name"`
	AddressHash   string `json:"address_hash,omitempty"`
	DOB           string `json:"dob,omitempty"`
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	profileID, err := id.ParseProfileID(req.ProfileID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	consentID, err := id.ParseConsentID(req.ConsentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	tok, err := h.tokens.Issue(ctx, service.IssueInput{
		ProfileID: profileID,
		ConsentID: consentID,
		Recipient: req.Recipient,
		TTLHours:  req.TTLHours,
	})
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "failed to issue token", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, IssueTokenResponse{
		TokenID:   tok.ID.String(),
		ExpiresAt: tok.ExpiresAt,
		Signature: tok.Signature,
	})
}

// handleResolveToken returns the projection a requester may see. Denials
// carry the policy reason in the error envelope.
func (h *Handler) handleResolveToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	tokenID, err := id.ParseTokenID(chi.URLParam(r, "token_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	requester := strings.TrimSpace(r.URL.Query().Get("requester"))

	proj, err := h.tokens.Resolve(ctx, tokenID, requester)
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "failed to resolve token", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ResolveResponse{
		ProfileID:     proj.ProfileID,
		CanonicalName: proj.CanonicalName,
		AddressHash:   proj.AddressHash,
		DOB:           proj.DOB,
	})
}

func (h *Handler) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	tokenID, err := id.ParseTokenID(chi.URLParam(r, "token_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.tokens.Revoke(ctx, tokenID); err != nil {
		h.writeServiceError(ctx, w, requestID, "failed to revoke token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	p, err := h.tokens.Verify(ctx, req.Signature)
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "signature verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyTokenResponse{
		ProfileID: p.ProfileID,
		ConsentID: p.ConsentID,
		Recipient: p.Recipient,
		IssuedAt:  p.IssuedAt,
		ExpiresAt: p.ExpiresAt,
	})
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, requestID, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
	}
	httputil.WriteError(w, err)
}
