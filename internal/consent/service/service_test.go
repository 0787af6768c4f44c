package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycvault/internal/domain"
	"kycvault/internal/extraction"
	"kycvault/internal/store"
	"kycvault/internal/store/memory"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/requestcontext"
)

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, string) (string, error) {
	return "", errors.New("model offline")
}

type ConsentServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	store   *memory.Store
	service *Service
	profile *domain.Profile
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = memory.New()
	s.service = New(s.store, extraction.FirstSentence{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	p, err := domain.NewProfile(id.NewProfileID(), "Jane Doe", "1990-02-01", "hash", nil, s.now)
	s.Require().NoError(err)
	s.profile = p
	s.Require().NoError(s.store.RunInTx(s.ctx, func(st store.Stores) error {
		return st.Profiles().Create(s.ctx, p)
	}))
}

func (s *ConsentServiceSuite) grant(scope ...string) *domain.Consent {
	c, err := s.service.Grant(s.ctx, GrantInput{
		ProfileID:    s.profile.ID,
		GrantedTo:    "BankA",
		Scope:        scope,
		DurationDays: 30,
		Purpose:      "kyc",
	})
	s.Require().NoError(err)
	return c
}

func (s *ConsentServiceSuite) TestGrant() {
	c := s.grant("DOB", "address", "dob")

	s.Equal([]id.ScopeAttribute{id.ScopeDOB, id.ScopeAddress}, c.Scope)
	s.Equal(s.now, c.GrantedAt)
	s.Equal(s.now.Add(30*24*time.Hour), c.ExpiresAt)
	s.Equal("Consent to share dob, address with BankA for kyc.", c.ConsentText)
	s.Nil(c.RevokedAt)

	events, err := s.store.AuditLog().ListByTarget(s.ctx, c.ID.String())
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(s.profile.ID.String(), events[0].Actor, "the data subject is the actor")
	s.Equal(audit.ActionCreateConsent, events[0].Action)
}

func (s *ConsentServiceSuite) TestGrant_SummarizerFailureKeepsFullText() {
	svc := New(s.store, failingSummarizer{})
	c, err := svc.Grant(s.ctx, GrantInput{ProfileID: s.profile.ID, GrantedTo: "BankA", Scope: []string{"dob"}, DurationDays: 1})
	s.Require().NoError(err)
	s.Equal("Consent to share dob with BankA for ", c.ConsentText)
}

func (s *ConsentServiceSuite) TestGrant_Validation() {
	tests := []struct {
		name string
		in   GrantInput
		code dErrors.Code
	}{
		{"unknown scope", GrantInput{ProfileID: s.profile.ID, GrantedTo: "BankA", Scope: []string{"ssn"}, DurationDays: 1}, dErrors.CodeInvalidInput},
		{"empty scope", GrantInput{ProfileID: s.profile.ID, GrantedTo: "BankA", DurationDays: 1}, dErrors.CodeInvalidInput},
		{"zero duration", GrantInput{ProfileID: s.profile.ID, GrantedTo: "BankA", Scope: []string{"dob"}}, dErrors.CodeValidation},
		{"negative duration", GrantInput{ProfileID: s.profile.ID, GrantedTo: "BankA", Scope: []string{"dob"}, DurationDays: -3}, dErrors.CodeValidation},
		{"no recipient", GrantInput{ProfileID: s.profile.ID, GrantedTo: " ", Scope: []string{"dob"}, DurationDays: 1}, dErrors.CodeValidation},
		{"unknown profile", GrantInput{ProfileID: id.NewProfileID(), GrantedTo: "BankA", Scope: []string{"dob"}, DurationDays: 1}, dErrors.CodeNotFound},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Grant(s.ctx, tt.in)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}
	s.Zero(s.store.AuditLog().Len(), "rejected grants leave no audit")
}

func (s *ConsentServiceSuite) TestRevoke_KeepsFirstTimestamp() {
	c := s.grant("dob")

	s.Require().NoError(s.service.Revoke(s.ctx, c.ID))
	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
	s.Require().NoError(s.service.Revoke(later, c.ID))

	got, err := s.service.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.RevokedAt)
	s.Equal(s.now, *got.RevokedAt)

	events, err := s.store.AuditLog().ListByTarget(s.ctx, c.ID.String())
	s.Require().NoError(err)
	s.Len(events, 3, "grant plus two revocations")
}

func (s *ConsentServiceSuite) TestRevoke_Unknown() {
	err := s.service.Revoke(s.ctx, id.NewConsentID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ConsentServiceSuite) TestListByProfile() {
	a := s.grant("dob")
	b := s.grant("address")

	consents, err := s.service.ListByProfile(s.ctx, s.profile.ID)
	s.Require().NoError(err)
	s.Require().Len(consents, 2)
	ids := []id.ConsentID{consents[0].ID, consents[1].ID}
	s.ElementsMatch([]id.ConsentID{a.ID, b.ID}, ids)

	_, err = s.service.ListByProfile(s.ctx, id.NewProfileID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
