package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"kycvault/internal/extraction"
	"kycvault/internal/platform/metrics"
	"kycvault/internal/signature"
	"kycvault/internal/store"
	"kycvault/internal/store/memory"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/requestcontext"
)

type stubExtractor struct {
	attrs extraction.Attributes
	err   error
}

func (s stubExtractor) Extract(context.Context, extraction.Document) (extraction.Attributes, error) {
	return s.attrs, s.err
}

type ProfileServiceSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	store    *memory.Store
	digester *signature.AddressDigester
	service  *Service
}

func TestProfileServiceSuite(t *testing.T) {
	suite.Run(t, new(ProfileServiceSuite))
}

func (s *ProfileServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = memory.New()
	s.digester = signature.NewAddressDigester([]byte("digest-key-for-tests"))
	s.service = s.newService(extraction.NewHeuristic())
}

func (s *ProfileServiceSuite) newService(ex extraction.Extractor) *Service {
	return New(s.store, ex, s.digester,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	)
}

func (s *ProfileServiceSuite) findProfile(pid id.ProfileID) {
	s.Require().NoError(s.store.RunInTx(s.ctx, func(st store.Stores) error {
		_, err := st.Profiles().FindByID(s.ctx, pid)
		return err
	}))
}

func (s *ProfileServiceSuite) TestCreate_DigestsAddressAndAudits() {
	p, err := s.service.Create(s.ctx, CreateInput{
		CanonicalName: " Jane Doe ",
		DOB:           "1990-02-01",
		Address:       "12  Baker Street",
	})
	s.Require().NoError(err)

	s.Equal("Jane Doe", p.CanonicalName)
	s.Equal(s.digester.Digest("12 baker street"), p.AddressHash)
	s.NotContains(p.AddressHash, "Baker")
	s.Equal(s.now, p.CreatedAt)
	s.findProfile(p.ID)

	events, err := s.store.AuditLog().ListByTarget(s.ctx, p.ID.String())
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.ActorSystem, events[0].Actor)
	s.Equal(audit.ActionCreateProfile, events[0].Action)
	s.Equal(s.now, events[0].Timestamp)
}

func (s *ProfileServiceSuite) TestCreate_RequiresName() {
	_, err := s.service.Create(s.ctx, CreateInput{CanonicalName: "  "})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Zero(s.store.AuditLog().Len())
}

func (s *ProfileServiceSuite) TestEnrol_UsesExtractedAttributes() {
	doc := extraction.Document{
		Filename: "passport.txt",
		Data:     []byte("Jane Doe\nDOB: 01/02/1990\n12 Baker Street\n"),
	}
	p, err := s.service.Enrol(s.ctx, doc)
	s.Require().NoError(err)

	s.Equal("Jane Doe", p.CanonicalName)
	s.Equal("DOB: 01/02/1990", p.DOB)
	s.True(p.HasAddress())
	s.Equal([]string{"passport.txt"}, p.EvidenceRefs)
}

func (s *ProfileServiceSuite) TestEnrol_DefaultsUnknownName() {
	svc := s.newService(stubExtractor{})
	p, err := svc.Enrol(s.ctx, extraction.Document{Filename: "blank.png", Data: []byte{0x89}})
	s.Require().NoError(err)
	s.Equal(UnknownName, p.CanonicalName)
	s.False(p.HasAddress())
}

func (s *ProfileServiceSuite) TestEnrol_Errors() {
	_, err := s.service.Enrol(s.ctx, extraction.Document{Filename: "empty.txt"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	svc := s.newService(stubExtractor{err: errors.New("decoder crashed")})
	_, err = svc.Enrol(s.ctx, extraction.Document{Data: []byte("x")})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ProfileServiceSuite) TestAppendEvidence() {
	p, err := s.service.Create(s.ctx, CreateInput{CanonicalName: "Jane Doe", EvidenceRefs: []string{"doc-1"}})
	s.Require().NoError(err)

	s.Require().NoError(s.service.AppendEvidence(s.ctx, p.ID, "doc-2"))

	s.Require().NoError(s.store.RunInTx(s.ctx, func(st store.Stores) error {
		got, err := st.Profiles().FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal([]string{"doc-1", "doc-2"}, got.EvidenceRefs)
		return nil
	}))

	events, err := s.store.AuditLog().ListByTarget(s.ctx, p.ID.String())
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(audit.ActionAppendEvidence, events[1].Action)
}

func (s *ProfileServiceSuite) TestAppendEvidence_Errors() {
	err := s.service.AppendEvidence(s.ctx, id.NewProfileID(), "doc")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	err = s.service.AppendEvidence(s.ctx, id.NewProfileID(), " ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
