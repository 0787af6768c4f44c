// Package service grants and revokes consents over existing profiles.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

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

// maxDurationDays caps a single grant at ten years.
const maxDurationDays = 3650

// GrantInput is a consent request as received from the caller.
type GrantInput struct {
	ProfileID    id.ProfileID
	GrantedTo    string
	Scope        []string
	DurationDays int
	Purpose      string
}

// Service persists consent grants and revocations. It keeps orchestration out
// of handlers and domain logic thin.
type Service struct {
	tx         store.Tx
	summarizer extraction.Summarizer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(tx store.Tx, summarizer extraction.Summarizer, opts ...Option) *Service {
	s := &Service{
		tx:         tx,
		summarizer: summarizer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grant validates the request, confirms the profile exists and stores the
// consent with its create_consent audit event.
func (s *Service) Grant(ctx context.Context, in GrantInput) (*domain.Consent, error) {
	scope, err := id.ParseScope(in.Scope)
	if err != nil {
		return nil, err
	}
	if in.DurationDays <= 0 || in.DurationDays > maxDurationDays {
		return nil, dErrors.New(dErrors.CodeValidation, "duration_days must be between 1 and 3650")
	}
	grantedTo := strings.TrimSpace(in.GrantedTo)
	purpose := strings.TrimSpace(in.Purpose)

	now := requestcontext.Now(ctx)
	text := s.consentText(ctx, scope, grantedTo, purpose)
	consent, err := domain.NewConsent(id.NewConsentID(), in.ProfileID, grantedTo, scope, purpose, text,
		now, now.Add(time.Duration(in.DurationDays)*24*time.Hour))
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(stores store.Stores) error {
		if _, err := stores.Profiles().FindByID(ctx, in.ProfileID); err != nil {
			return err
		}
		if err := stores.Consents().Create(ctx, consent); err != nil {
			return err
		}
		return stores.Audit().Append(ctx, audit.NewEvent(in.ProfileID.String(), audit.ActionCreateConsent, consent.ID.String(), now, map[string]string{
			audit.MetaProfileID: in.ProfileID.String(),
			audit.MetaRequestID: requestcontext.RequestID(ctx),
		}))
	})
	if err != nil {
		return nil, translate(err, "profile not found", "failed to grant consent")
	}

	if s.metrics != nil {
		s.metrics.IncrementConsentsCreated()
	}
	s.logger.InfoContext(ctx, "consent granted",
		"request_id", requestcontext.RequestID(ctx),
		"consent_id", consent.ID.String(),
		"profile_id", in.ProfileID.String(),
		"granted_to", grantedTo,
		"expires_at", consent.ExpiresAt,
	)
	return consent, nil
}

// consentText renders the human-readable grant and condenses it. A failing
// summarizer leaves the full text.
func (s *Service) consentText(ctx context.Context, scope []id.ScopeAttribute, grantedTo, purpose string) string {
	names := make([]string, len(scope))
	for i, attr := range scope {
		names[i] = attr.String()
	}
	text := fmt.Sprintf("Consent to share %s with %s for %s", strings.Join(names, ", "), grantedTo, purpose)
	if s.summarizer == nil {
		return text
	}
	summary, err := s.summarizer.Summarize(ctx, text)
	if err != nil || summary == "" {
		s.logger.WarnContext(ctx, "consent summary unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return text
	}
	return summary
}

// Revoke permanently revokes a consent. Revoking again keeps the first
// revocation time and is still audited.
func (s *Service) Revoke(ctx context.Context, consentID id.ConsentID) error {
	now := requestcontext.Now(ctx)

	err := s.tx.RunInTx(ctx, func(stores store.Stores) error {
		if err := stores.Consents().Revoke(ctx, consentID, now); err != nil {
			return err
		}
		return stores.Audit().Append(ctx, audit.NewEvent(audit.ActorSystem, audit.ActionRevokeConsent, consentID.String(), now, map[string]string{
			audit.MetaRequestID: requestcontext.RequestID(ctx),
		}))
	})
	if err != nil {
		return translate(err, "consent not found", "failed to revoke consent")
	}

	if s.metrics != nil {
		s.metrics.IncrementConsentsRevoked()
	}
	s.logger.InfoContext(ctx, "consent revoked",
		"request_id", requestcontext.RequestID(ctx),
		"consent_id", consentID.String(),
	)
	return nil
}

// Get returns a consent by id.
func (s *Service) Get(ctx context.Context, consentID id.ConsentID) (*domain.Consent, error) {
	var consent *domain.Consent
	err := s.tx.RunInTx(ctx, func(stores store.Stores) error {
		var err error
		consent, err = stores.Consents().FindByID(ctx, consentID)
		return err
	})
	if err != nil {
		return nil, translate(err, "consent not found", "failed to load consent")
	}
	return consent, nil
}

// ListByProfile returns every consent granted over a profile, revoked and
// expired included.
func (s *Service) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]*domain.Consent, error) {
	var consents []*domain.Consent
	err := s.tx.RunInTx(ctx, func(stores store.Stores) error {
		if _, err := stores.Profiles().FindByID(ctx, profileID); err != nil {
			return err
		}
		var err error
		consents, err = stores.Consents().ListByProfile(ctx, profileID)
		return err
	})
	if err != nil {
		return nil, translate(err, "profile not found", "failed to list consents")
	}
	return consents, nil
}

func translate(err error, notFoundMsg, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
