// Package service creates profiles, either from submitted attributes or from an
// uploaded document run through extraction, and appends evidence references.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"kycvault/internal/domain"
	"kycvault/internal/extraction"
	"kycvault/internal/platform/metrics"
	"kycvault/internal/store"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/sentinel"
	"kycvault/pkg/requestcontext"
)

// UnknownName is stored when extraction yields no name.
const UnknownName = "Unknown"

// Digester produces the one-way address digest.
type Digester interface {
	Digest(address string) string
}

// CreateInput carries raw attributes. Address is digested before storage.
type CreateInput struct {
	CanonicalName string
	DOB           string
	Address       string
	EvidenceRefs  []string
}

// Service owns profile creation.
type Service struct {
	tx        store.Tx
	extractor extraction.Extractor
	digester  Digester
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(tx store.Tx, extractor extraction.Extractor, digester Digester, opts ...Option) *Service {
	s := &Service{
		tx:        tx,
		extractor: extractor,
		digester:  digester,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a profile and its create_profile audit event together.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Profile, error) {
	now := requestcontext.Now(ctx)
	profile, err := domain.NewProfile(
		id.NewProfileID(),
		strings.TrimSpace(in.CanonicalName),
		strings.TrimSpace(in.DOB),
		s.digester.Digest(in.Address),
		in.EvidenceRefs,
		now,
	)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(stores store.Stores) error {
		if err := stores.Profiles().Create(ctx, profile); err != nil {
			return err
		}
		return stores.Audit().Append(ctx, audit.NewEvent(audit.ActorSystem, audit.ActionCreateProfile, profile.ID.String(), now, map[string]string{
			audit.MetaRequestID: requestcontext.RequestID(ctx),
		}))
	})
	if err != nil {
		return nil, s.translate(err, "failed to create profile")
	}

	if s.metrics != nil {
		s.metrics.IncrementProfilesCreated()
	}
	s.logger.InfoContext(ctx, "profile created",
		"request_id", requestcontext.RequestID(ctx),
		"profile_id", profile.ID.String(),
		"has_dob", profile.DOB != "",
		"has_address", profile.HasAddress(),
	)
	return profile, nil
}

// Enrol extracts attributes from the document and creates a profile from
// them. The filename becomes the first evidence reference.
func (s *Service) Enrol(ctx context.Context, doc extraction.Document) (*domain.Profile, error) {
	if len(doc.Data) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "document is empty")
	}
	attrs, err := s.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to extract document attributes")
	}

	name := strings.TrimSpace(attrs.CanonicalName)
	if name == "" {
		name = UnknownName
		if s.metrics != nil {
			s.metrics.IncrementExtractionFallback()
		}
	}

	return s.Create(ctx, CreateInput{
		CanonicalName: name,
		DOB:           attrs.DOB,
		Address:       attrs.Address,
		EvidenceRefs:  []string{doc.Filename},
	})
}

// AppendEvidence adds an evidence reference to an existing profile.
func (s *Service) AppendEvidence(ctx context.Context, profileID id.ProfileID, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return dErrors.New(dErrors.CodeValidation, "evidence_ref is required")
	}
	now := requestcontext.Now(ctx)

	err := s.tx.RunInTx(ctx, func(stores store.Stores) error {
		if err := stores.Profiles().AppendEvidence(ctx, profileID, ref); err != nil {
			return err
		}
		return stores.Audit().Append(ctx, audit.NewEvent(audit.ActorSystem, audit.ActionAppendEvidence, profileID.String(), now, map[string]string{
			audit.MetaRequestID: requestcontext.RequestID(ctx),
		}))
	})
	if err != nil {
		return s.translate(err, "failed to append evidence")
	}
	return nil
}

func (s *Service) translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "profile not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
