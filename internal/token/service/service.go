// Package service issues, resolves, revokes and verifies consent-scoped
// tokens. Every operation is one entity-store transaction; audit events commit
// with the state change they describe.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kycvault/internal/domain"
	"kycvault/internal/platform/metrics"
	"kycvault/internal/policy"
	"kycvault/internal/signature"
	"kycvault/internal/store"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/sentinel"
	"kycvault/pkg/requestcontext"
)

const (
	// DefaultTTLHours applies when the caller sends no ttl.
	DefaultTTLHours = 24
	maxTTLHours     = 24 * 365
)

// Signer signs and verifies the canonical token payload.
type Signer interface {
	Sign(p signature.Payload) (string, error)
	Verify(compact string) (signature.Payload, error)
}

// IssueInput is an issuance request. TTLHours of zero means DefaultTTLHours.
type IssueInput struct {
	ProfileID id.ProfileID
	ConsentID id.ConsentID
	Recipient string
	TTLHours  int
}

// Projection is the scoped view of a profile returned on an allowed
// resolution. Optional fields are empty when out of scope.
type Projection struct {
	ProfileID     string
	CanonicalName string
	AddressHash   string
	DOB           string
}

// Service implements the token lifecycle.
type Service struct {
	tx      store.Tx
	signer  Signer
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer overrides the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func New(tx store.Tx, signer Signer, opts ...Option) *Service {
	s := &Service{
		tx:     tx,
		signer: signer,
		logger: slog.Default(),
		tracer: otel.Tracer("kycvault/token"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue binds a new token to an existing (profile, consent) pair. Consent
// validity is not checked here; resolution enforces it.
func (s *Service) Issue(ctx context.Context, in IssueInput) (tok *domain.Token, err error) {
	ctx, span := s.tracer.Start(ctx, "token.Issue", trace.WithAttributes(
		attribute.String("profile_id", in.ProfileID.String()),
		attribute.String("consent_id", in.ConsentID.String()),
	))
	defer func() { endSpan(span, err) }()

	ttl := in.TTLHours
	if ttl == 0 {
		ttl = DefaultTTLHours
	}
	if ttl < 0 || ttl > maxTTLHours {
		return nil, dErrors.New(dErrors.CodeValidation, "ttl_hours must be between 1 and 8760")
	}
	recipient := strings.TrimSpace(in.Recipient)
	if recipient == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "recipient is required")
	}

	now := requestcontext.Now(ctx)
	expiresAt := now.Add(time.Duration(ttl) * time.Hour)

	err = s.tx.RunInTx(ctx, func(stores store.Stores) error {
		profile, err := stores.Profiles().FindByID(ctx, in.ProfileID)
		if err != nil {
			return notFound(err, "profile not found")
		}
		consent, err := stores.Consents().FindByID(ctx, in.ConsentID)
		if err != nil {
			return notFound(err, "consent not found")
		}
		if consent.ProfileID != profile.ID {
			return dErrors.New(dErrors.CodeInvalidRelation, "consent does not belong to profile")
		}

		sig, err := s.signer.Sign(signature.Payload{
			ProfileID: profile.ID.String(),
			ConsentID: consent.ID.String(),
			Recipient: recipient,
			IssuedAt:  now,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
		}

		tok, err = domain.NewToken(id.NewTokenID(), profile.ID, consent.ID, recipient, now, expiresAt, sig)
		if err != nil {
			return err
		}
		if err := stores.Tokens().Create(ctx, tok); err != nil {
			return err
		}
		return stores.Audit().Append(ctx, audit.NewEvent(audit.ActorIssuer, audit.ActionIssueToken, tok.ID.String(), now, map[string]string{
			audit.MetaProfileID: profile.ID.String(),
			audit.MetaConsentID: consent.ID.String(),
			audit.MetaRequestID: requestcontext.RequestID(ctx),
		}))
	})
	if err != nil {
		return nil, translate(err, "failed to issue token")
	}

	if s.metrics != nil {
		s.metrics.IncrementTokensIssued()
	}
	s.logger.InfoContext(ctx, "token issued",
		"request_id", requestcontext.RequestID(ctx),
		"token_id", tok.ID.String(),
		"consent_id", in.ConsentID.String(),
		"recipient", recipient,
		"expires_at", expiresAt,
	)
	return tok, nil
}

// Resolve runs the resolution pipeline for requester. Unknown and expired
// tokens fail before the policy check and are not audited. Every attempt that
// reaches the policy check is audited, and that audit commits even when the
// result is a denial.
func (s *Service) Resolve(ctx context.Context, tokenID id.TokenID, requester string) (proj *Projection, err error) {
	ctx, span := s.tracer.Start(ctx, "token.Resolve", trace.WithAttributes(
		attribute.String("token_id", tokenID.String()),
	))
	defer func() { endSpan(span, err) }()

	requester = strings.TrimSpace(requester)
	if requester == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "requester is required")
	}
	now := requestcontext.Now(ctx)

	var decision policy.Decision
	err = s.tx.RunInTx(ctx, func(stores store.Stores) error {
		tok, err := stores.Tokens().FindByID(ctx, tokenID)
		if err != nil {
			return notFound(err, "token not found")
		}
		if tok.IsExpired(now) {
			return dErrors.New(dErrors.CodeExpired, "token expired")
		}
		consent, err := stores.Consents().FindByID(ctx, tok.ConsentID)
		if err != nil {
			return notFound(err, "consent not found")
		}

		decision = policy.Evaluate(tok, consent, requester, now)
		if decision.Allowed {
			profile, err := stores.Profiles().FindByID(ctx, tok.ProfileID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "token references missing profile")
			}
			proj = project(profile, consent)
		}

		return stores.Audit().Append(ctx, audit.NewEvent(requester, audit.ActionResolveToken, tokenID.String(), now, map[string]string{
			audit.MetaDecision:  decision.Outcome(),
			audit.MetaReason:    string(decision.Reason),
			audit.MetaClientIP:  requestcontext.ClientIP(ctx),
			audit.MetaUserAgent: requestcontext.UserAgent(ctx),
			audit.MetaRequestID: requestcontext.RequestID(ctx),
		}))
	})
	if err != nil {
		s.observeResolve(err)
		return nil, translate(err, "failed to resolve token")
	}

	span.SetAttributes(attribute.String("decision", decision.Outcome()), attribute.String("reason", string(decision.Reason)))
	if s.metrics != nil {
		s.metrics.ObserveResolve(decision.Outcome(), string(decision.Reason))
	}
	if !decision.Allowed {
		s.logger.WarnContext(ctx, "token resolution denied",
			"request_id", requestcontext.RequestID(ctx),
			"token_id", tokenID.String(),
			"requester", requester,
			"reason", string(decision.Reason),
		)
		return nil, dErrors.Denied(string(decision.Reason))
	}
	return proj, nil
}

// project discloses profile_id and canonical_name always and the optional
// attributes only when in scope. The raw address is never stored, so it
// cannot leak here.
func project(p *domain.Profile, c *domain.Consent) *Projection {
	out := &Projection{
		ProfileID:     p.ID.String(),
		CanonicalName: p.CanonicalName,
	}
	if c.Allows(id.ScopeAddress) {
		out.AddressHash = p.AddressHash
	}
	if c.Allows(id.ScopeDOB) {
		out.DOB = p.DOB
	}
	return out
}

// Revoke marks the token revoked. Revoking a revoked token succeeds and is
// audited again.
func (s *Service) Revoke(ctx context.Context, tokenID id.TokenID) (err error) {
	ctx, span := s.tracer.Start(ctx, "token.Revoke", trace.WithAttributes(
		attribute.String("token_id", tokenID.String()),
	))
	defer func() { endSpan(span, err) }()

	now := requestcontext.Now(ctx)
	err = s.tx.RunInTx(ctx, func(stores store.Stores) error {
		if err := stores.Tokens().Revoke(ctx, tokenID); err != nil {
			return notFound(err, "token not found")
		}
		return stores.Audit().Append(ctx, audit.NewEvent(audit.ActorSystem, audit.ActionRevokeToken, tokenID.String(), now, map[string]string{
			audit.MetaRequestID: requestcontext.RequestID(ctx),
		}))
	})
	if err != nil {
		return translate(err, "failed to revoke token")
	}

	if s.metrics != nil {
		s.metrics.IncrementTokensRevoked()
	}
	s.logger.InfoContext(ctx, "token revoked",
		"request_id", requestcontext.RequestID(ctx),
		"token_id", tokenID.String(),
	)
	return nil
}

// Verify checks a signature without touching the store. Expiry is not
// evaluated.
func (s *Service) Verify(ctx context.Context, compact string) (signature.Payload, error) {
	_, span := s.tracer.Start(ctx, "token.Verify")
	defer span.End()

	p, err := s.signer.Verify(strings.TrimSpace(compact))
	if err != nil {
		span.SetStatus(codes.Error, "signature invalid")
		return signature.Payload{}, err
	}
	return p, nil
}

func (s *Service) observeResolve(err error) {
	if s.metrics == nil {
		return
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound:
		s.metrics.ObserveResolve("not_found", "")
	case dErrors.CodeExpired:
		s.metrics.ObserveResolve("expired", "")
	default:
		s.metrics.ObserveResolve("error", "")
	}
}

// notFound converts the store's missing-row sentinel into a coded error and
// passes anything else through.
func notFound(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, msg)
	}
	return err
}

func translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
