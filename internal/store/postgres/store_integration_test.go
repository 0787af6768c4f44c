//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycvault/internal/domain"
	"kycvault/internal/store"
	id "kycvault/pkg/domain"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/sentinel"
	"kycvault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Store
	ctx   context.Context
	now   time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = New(s.pg.Pool)
	s.ctx = context.Background()
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) seed() (*domain.Profile, *domain.Consent, *domain.Token) {
	p, err := domain.NewProfile(id.NewProfileID(), "Jane Doe", "1990-01-01", "digest", []string{"doc-1"}, s.now)
	s.Require().NoError(err)
	c, err := domain.NewConsent(id.NewConsentID(), p.ID, "BankA", []id.ScopeAttribute{id.ScopeDOB}, "kyc", "Consent to share dob", s.now, s.now.Add(24*time.Hour))
	s.Require().NoError(err)
	tok, err := domain.NewToken(id.NewTokenID(), p.ID, c.ID, "BankA", s.now, s.now.Add(time.Hour), "sig")
	s.Require().NoError(err)

	s.Require().NoError(s.store.RunInTx(s.ctx, func(st store.Stores) error {
		if err := st.Profiles().Create(s.ctx, p); err != nil {
			return err
		}
		if err := st.Consents().Create(s.ctx, c); err != nil {
			return err
		}
		if err := st.Tokens().Create(s.ctx, tok); err != nil {
			return err
		}
		return st.Audit().Append(s.ctx, audit.NewEvent(audit.ActorIssuer, audit.ActionIssueToken, tok.ID.String(), s.now, nil))
	}))
	return p, c, tok
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	p, c, tok := s.seed()

	s.Require().NoError(s.store.RunInTx(s.ctx, func(st store.Stores) error {
		gotP, err := st.Profiles().FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(p.EvidenceRefs, gotP.EvidenceRefs)
		s.Equal("digest", gotP.AddressHash)

		gotC, err := st.Consents().FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(c.Scope, gotC.Scope)
		s.True(c.ExpiresAt.Equal(gotC.ExpiresAt))

		gotT, err := st.Tokens().FindByID(s.ctx, tok.ID)
		s.Require().NoError(err)
		s.Equal(domain.TokenStatusActive, gotT.Status)

		events, err := st.Audit().ListByTarget(s.ctx, tok.ID.String())
		s.Require().NoError(err)
		s.Len(events, 1)
		return nil
	}))
}

func (s *PostgresStoreSuite) TestRollbackLeavesNoTokenAndNoAudit() {
	p, c, _ := s.seed()
	tok, err := domain.NewToken(id.NewTokenID(), p.ID, c.ID, "BankA", s.now, s.now.Add(time.Hour), "sig")
	s.Require().NoError(err)

	boom := errors.New("boom")
	err = s.store.RunInTx(s.ctx, func(st store.Stores) error {
		if err := st.Tokens().Create(s.ctx, tok); err != nil {
			return err
		}
		if err := st.Audit().Append(s.ctx, audit.NewEvent(audit.ActorIssuer, audit.ActionIssueToken, tok.ID.String(), s.now, nil)); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	s.Require().NoError(s.store.RunInTx(s.ctx, func(st store.Stores) error {
		_, err := st.Tokens().FindByID(s.ctx, tok.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		events, err := st.Audit().ListByTarget(s.ctx, tok.ID.String())
		s.Empty(events)
		return err
	}))
}

func (s *PostgresStoreSuite) TestConcurrentRevokesSucceed() {
	_, _, tok := s.seed()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.store.RunInTx(s.ctx, func(st store.Stores) error {
				if err := st.Tokens().Revoke(s.ctx, tok.ID); err != nil {
					return err
				}
				return st.Audit().Append(s.ctx, audit.NewEvent(audit.ActorSystem, audit.ActionRevokeToken, tok.ID.String(), time.Now(), nil))
			})
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.ErrorIs(err, sentinel.ErrConflict)
		}
	}
	s.Positive(succeeded)

	s.Require().NoError(s.store.RunInTx(s.ctx, func(st store.Stores) error {
		got, err := st.Tokens().FindByID(s.ctx, tok.ID)
		s.Require().NoError(err)
		s.Equal(domain.TokenStatusRevoked, got.Status)
		events, err := st.Audit().ListByTarget(s.ctx, tok.ID.String())
		s.Require().NoError(err)
		s.Len(events, 1+succeeded, "one audit row per committed revoke")
		return nil
	}))
}

func (s *PostgresStoreSuite) TestUnknownForeignKey() {
	tok, err := domain.NewToken(id.NewTokenID(), id.NewProfileID(), id.NewConsentID(), "BankA", s.now, s.now.Add(time.Hour), "sig")
	s.Require().NoError(err)
	err = s.store.RunInTx(s.ctx, func(st store.Stores) error {
		return st.Tokens().Create(s.ctx, tok)
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}
