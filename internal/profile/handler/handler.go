// Package handler exposes profile creation over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/profile-mocks.go -package=mocks Service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kycvault/internal/domain"
	"kycvault/internal/extraction"
	profilesvc "kycvault/internal/profile/service"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/httputil"
	request "kycvault/pkg/platform/middleware/request"
)

// maxUploadBytes bounds enrolment documents.
const maxUploadBytes = 10 << 20

// Service defines the profile operations the handler needs.
type Service interface {
	Create(ctx context.Context, in profilesvc.CreateInput) (*domain.Profile, error)
	Enrol(ctx context.Context, doc extraction.Document) (*domain.Profile, error)
	AppendEvidence(ctx context.Context, profileID id.ProfileID, ref string) error
}

// Handler handles enrolment and profile endpoints.
type Handler struct {
	profiles Service
	logger   *slog.Logger
}

func New(profiles Service, logger *slog.Logger) *Handler {
	return &Handler{profiles: profiles, logger: logger}
}

// Register registers the profile routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/enrolments", h.handleEnrol)
	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Post("/profiles", h.handleCreate)
		r.Post("/profiles/{profile_id}/evidence", h.handleAppendEvidence)
	})
}

// CreateProfileRequest is the JSON body of POST /profiles.
type CreateProfileRequest struct {
	CanonicalName string `json:"canonical_name"`
	DOB           string `json:"dob,omitempty"`
	Address       string `json:"address,omitempty"`
}

func (r *CreateProfileRequest) Validate() error {
	if r.CanonicalName == "" {
		return dErrors.New(dErrors.CodeValidation, "canonical_name is required")
	}
	if len(r.CanonicalName) > 256 || len(r.Address) > 1024 || len(r.DOB) > 64 {
		return dErrors.New(dErrors.CodeValidation, "field too long")
	}
	return nil
}

// AppendEvidenceRequest is the JSON body of POST /profiles/{id}/evidence.
type AppendEvidenceRequest struct {
	EvidenceRef string `json:"evidence_ref"`
}

func (r *AppendEvidenceRequest) Validate() error {
	if r.EvidenceRef == "" {
		return dErrors.New(dErrors.CodeValidation, "evidence_ref is required")
	}
	return nil
}

// ProfileResponse never carries the raw address.
type ProfileResponse struct {
	ProfileID     string    `json:"profile_id"`
	CanonicalName string    `json:"canonical_name"`
	DOB           string    `json:"dob,omitempty"`
	AddressHash   string    `json:"address_hash,omitempty"`
	EvidenceRefs  []string  `json:"evidence_refs"`
	CreatedAt     time.Time `json:"created_at"`
}

func toResponse(p *domain.Profile) ProfileResponse {
	refs := p.EvidenceRefs
	if refs == nil {
		refs = []string{}
	}
	return ProfileResponse{
		ProfileID:     p.ID.String(),
		CanonicalName: p.CanonicalName,
		DOB:           p.DOB,
		AddressHash:   p.AddressHash,
		EvidenceRefs:  refs,
		CreatedAt:     p.CreatedAt,
	}
}

func (h *Handler) handleEnrol(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.logger.WarnContext(ctx, "invalid enrolment upload",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "multipart field 'file' is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "document too large"))
			return
		}
		h.logger.ErrorContext(ctx, "failed to read enrolment upload",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read upload"))
		return
	}

	profile, err := h.profiles.Enrol(ctx, extraction.Document{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "enrolment failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(profile))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateProfileRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	profile, err := h.profiles.Create(ctx, profilesvc.CreateInput{
		CanonicalName: req.CanonicalName,
		DOB:           req.DOB,
		Address:       req.Address,
	})
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "create profile failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(profile))
}

func (h *Handler) handleAppendEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	profileID, err := id.ParseProfileID(chi.URLParam(r, "profile_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AppendEvidenceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.profiles.AppendEvidence(ctx, profileID, req.EvidenceRef); err != nil {
		h.writeServiceError(ctx, w, requestID, "append evidence failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, requestID, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
	}
	httputil.WriteError(w, err)
}
