package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"kycvault/internal/domain"
	"kycvault/internal/platform/metrics"
	"kycvault/internal/signature"
	"kycvault/internal/store"
	"kycvault/internal/store/memory"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/requestcontext"
)

type TokenServiceSuite struct {
	suite.Suite
	now     time.Time
	store   *memory.Store
	signer  *signature.Service
	metrics *metrics.Metrics
	service *Service

	jane    *domain.Profile
	john    *domain.Profile
	consent *domain.Consent // jane -> BankA, scope dob, 30 days
}

func TestTokenServiceSuite(t *testing.T) {
	suite.Run(t, new(TokenServiceSuite))
}

func (s *TokenServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = memory.New()
	s.signer = signature.NewService([]byte("0123456789abcdef0123456789abcdef"))
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.service = New(s.store, s.signer,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	)

	var err error
	s.jane, err = domain.NewProfile(id.NewProfileID(), "Jane Doe", "1990-02-01", "jane-address-hash", nil, s.now)
	s.Require().NoError(err)
	s.john, err = domain.NewProfile(id.NewProfileID(), "John Roe", "1985-04-03", "", nil, s.now)
	s.Require().NoError(err)
	s.consent = s.seedConsent(s.jane.ID, "BankA", []id.ScopeAttribute{id.ScopeDOB}, 30*24*time.Hour)
}

func (s *TokenServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *TokenServiceSuite) seedConsent(pid id.ProfileID, grantedTo string, scope []id.ScopeAttribute, window time.Duration) *domain.Consent {
	c, err := domain.NewConsent(id.NewConsentID(), pid, grantedTo, scope, "kyc", "", s.now, s.now.Add(window))
	s.Require().NoError(err)
	s.Require().NoError(s.store.RunInTx(context.Background(), func(st store.Stores) error {
		for _, p := range []*domain.Profile{s.jane, s.john} {
			if _, err := st.Profiles().FindByID(context.Background(), p.ID); err != nil {
				if err := st.Profiles().Create(context.Background(), p); err != nil {
					return err
				}
			}
		}
		return st.Consents().Create(context.Background(), c)
	}))
	return c
}

func (s *TokenServiceSuite) issue(c *domain.Consent, recipient string, ttl int) *domain.Token {
	tok, err := s.service.Issue(s.at(s.now), IssueInput{ProfileID: c.ProfileID, ConsentID: c.ID, Recipient: recipient, TTLHours: ttl})
	s.Require().NoError(err)
	return tok
}

func (s *TokenServiceSuite) auditFor(target string) []audit.Event {
	events, err := s.store.AuditLog().ListByTarget(context.Background(), target)
	s.Require().NoError(err)
	return events
}

func (s *TokenServiceSuite) TestIssue() {
	tok := s.issue(s.consent, "BankA", 0)

	s.Equal(domain.TokenStatusActive, tok.Status)
	s.Equal(s.now, tok.IssuedAt)
	s.Equal(s.now.Add(DefaultTTLHours*time.Hour), tok.ExpiresAt)

	payload, err := s.signer.Verify(tok.Signature)
	s.Require().NoError(err)
	s.Equal(s.jane.ID.String(), payload.ProfileID)
	s.Equal(s.consent.ID.String(), payload.ConsentID)
	s.Equal("BankA", payload.Recipient)
	s.True(tok.ExpiresAt.Equal(payload.ExpiresAt))

	events := s.auditFor(tok.ID.String())
	s.Require().Len(events, 1)
	s.Equal(audit.ActorIssuer, events[0].Actor)
	s.Equal(audit.ActionIssueToken, events[0].Action)
	s.InDelta(1, promtest.ToFloat64(s.metrics.TokensIssued), 0)
}

func (s *TokenServiceSuite) TestIssue_CrossProfileIsInvalidRelation() {
	_, err := s.service.Issue(s.at(s.now), IssueInput{ProfileID: s.john.ID, ConsentID: s.consent.ID, Recipient: "BankA"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidRelation))

	s.Require().NoError(s.store.RunInTx(context.Background(), func(st store.Stores) error {
		toks, err := st.Tokens().ListByConsent(context.Background(), s.consent.ID)
		s.Require().NoError(err)
		s.Empty(toks, "no token persisted")
		return nil
	}))
	s.Zero(s.store.AuditLog().Len())
}

func (s *TokenServiceSuite) TestIssue_Errors() {
	tests := []struct {
		name string
		in   IssueInput
		code dErrors.Code
	}{
		{"unknown profile", IssueInput{ProfileID: id.NewProfileID(), ConsentID: s.consent.ID, Recipient: "BankA"}, dErrors.CodeNotFound},
		{"unknown consent", IssueInput{ProfileID: s.jane.ID, ConsentID: id.NewConsentID(), Recipient: "BankA"}, dErrors.CodeNotFound},
		{"negative ttl", IssueInput{ProfileID: s.jane.ID, ConsentID: s.consent.ID, Recipient: "BankA", TTLHours: -1}, dErrors.CodeValidation},
		{"no recipient", IssueInput{ProfileID: s.jane.ID, ConsentID: s.consent.ID, Recipient: " "}, dErrors.CodeValidation},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Issue(s.at(s.now), tt.in)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func (s *TokenServiceSuite) TestIssue_AllowedAgainstRevokedConsent() {
	s.Require().NoError(s.store.RunInTx(context.Background(), func(st store.Stores) error {
		return st.Consents().Revoke(context.Background(), s.consent.ID, s.now)
	}))
	tok := s.issue(s.consent, "BankA", 1)

	_, err := s.service.Resolve(s.at(s.now), tok.ID, "BankA")
	s.Equal("consent_revoked", dErrors.ReasonOf(err))
}

func (s *TokenServiceSuite) TestResolve_ProjectsScope() {
	tok := s.issue(s.consent, "BankA", 1)

	proj, err := s.service.Resolve(s.at(s.now.Add(time.Minute)), tok.ID, "BankA")
	s.Require().NoError(err)
	s.Equal(&Projection{ProfileID: s.jane.ID.String(), CanonicalName: "Jane Doe", DOB: "1990-02-01"}, proj)

	both := s.seedConsent(s.jane.ID, "BankB", []id.ScopeAttribute{id.ScopeAddress, id.ScopeDOB}, time.Hour)
	tok2 := s.issue(both, "BankB", 1)
	proj, err = s.service.Resolve(s.at(s.now), tok2.ID, "BankB")
	s.Require().NoError(err)
	s.Equal("jane-address-hash", proj.AddressHash)
	s.Equal("1990-02-01", proj.DOB)

	events := s.auditFor(tok.ID.String())
	s.Require().Len(events, 2)
	resolve := events[1]
	s.Equal("BankA", resolve.Actor)
	s.Equal(audit.ActionResolveToken, resolve.Action)
	s.Equal("allow", resolve.Meta[audit.MetaDecision])
	s.Equal("ok", resolve.Meta[audit.MetaReason])
}

func (s *TokenServiceSuite) TestResolve_DenialIsAuditedAndCommitted() {
	tok := s.issue(s.consent, "BankA", 1)
	ctx := requestcontext.WithClientMetadata(s.at(s.now), "203.0.113.9", "curl/8.4.0")

	_, err := s.service.Resolve(ctx, tok.ID, "BankB")
	s.Require().Error(err)
	s.Equal(dErrors.CodePolicyDenied, dErrors.CodeOf(err))
	s.Equal("recipient_mismatch", dErrors.ReasonOf(err))

	events := s.auditFor(tok.ID.String())
	s.Require().Len(events, 2)
	s.Equal("BankB", events[1].Actor)
	s.Equal("deny", events[1].Meta[audit.MetaDecision])
	s.Equal("recipient_mismatch", events[1].Meta[audit.MetaReason])
	s.Equal("203.0.113.9", events[1].Meta[audit.MetaClientIP])
	s.Equal("curl/8.4.0", events[1].Meta[audit.MetaUserAgent])
}

func (s *TokenServiceSuite) TestResolve_ExpiredFailsBeforePolicyWithoutAudit() {
	tok := s.issue(s.consent, "BankA", 1)

	_, err := s.service.Resolve(s.at(tok.ExpiresAt.Add(time.Second)), tok.ID, "BankB")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeExpired), "expiry wins over recipient mismatch")
	s.Len(s.auditFor(tok.ID.String()), 1, "issue only")

	_, err = s.service.Resolve(s.at(tok.ExpiresAt), tok.ID, "BankA")
	s.Require().NoError(err, "expiry is strict")
}

func (s *TokenServiceSuite) TestResolve_UnknownTokenWithoutAudit() {
	_, err := s.service.Resolve(s.at(s.now), id.NewTokenID(), "BankA")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Zero(s.store.AuditLog().Len())

	_, err = s.service.Resolve(s.at(s.now), id.NewTokenID(), "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *TokenServiceSuite) TestResolve_RevokedWinsOverRecipientMismatch() {
	tok := s.issue(s.consent, "BankA", 1)
	s.Require().NoError(s.service.Revoke(s.at(s.now), tok.ID))

	_, err := s.service.Resolve(s.at(s.now), tok.ID, "BankB")
	s.Equal("token_not_active", dErrors.ReasonOf(err))
}

func (s *TokenServiceSuite) TestResolve_ConsentExpiredBeforeToken() {
	short := s.seedConsent(s.jane.ID, "BankA", []id.ScopeAttribute{id.ScopeDOB}, time.Hour)
	tok := s.issue(short, "BankA", 48)

	_, err := s.service.Resolve(s.at(s.now.Add(2*time.Hour)), tok.ID, "BankA")
	s.Equal("consent_expired", dErrors.ReasonOf(err))
}

func (s *TokenServiceSuite) TestRevoke_IsIdempotentAndAuditedEveryCall() {
	tok := s.issue(s.consent, "BankA", 1)

	s.Require().NoError(s.service.Revoke(s.at(s.now), tok.ID))
	s.Require().NoError(s.service.Revoke(s.at(s.now), tok.ID))

	events := s.auditFor(tok.ID.String())
	s.Require().Len(events, 3)
	for _, e := range events[1:] {
		s.Equal(audit.ActorSystem, e.Actor)
		s.Equal(audit.ActionRevokeToken, e.Action)
	}

	err := s.service.Revoke(s.at(s.now), id.NewTokenID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *TokenServiceSuite) TestVerify() {
	tok := s.issue(s.consent, "BankA", 1)

	p, err := s.service.Verify(context.Background(), " "+tok.Signature+" ")
	s.Require().NoError(err)
	s.Equal("BankA", p.Recipient)

	_, err = s.service.Verify(context.Background(), tok.Signature+"x")
	s.True(dErrors.HasCode(err, dErrors.CodeSignatureInvalid))
}
