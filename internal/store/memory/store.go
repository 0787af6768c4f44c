// Package memory is the in-process entity store. A single store-wide mutex is
// held for the whole of RunInTx, so transactions are serialized; writes are
// staged in a transaction-local overlay and applied only when fn succeeds.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"kycvault/internal/domain"
	"kycvault/internal/store"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	auditmemory "kycvault/pkg/platform/audit/store/memory"
)

// Store holds committed state.
type Store struct {
	mu       sync.Mutex
	profiles map[id.ProfileID]*domain.Profile
	consents map[id.ConsentID]*domain.Consent
	tokens   map[id.TokenID]*domain.Token
	audit    *auditmemory.InMemoryStore
	timeout  time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithTimeout overrides store.DefaultTxTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		profiles: make(map[id.ProfileID]*domain.Profile),
		consents: make(map[id.ConsentID]*domain.Consent),
		tokens:   make(map[id.TokenID]*domain.Token),
		audit:    auditmemory.NewInMemoryStore(),
		timeout:  store.DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuditLog exposes the committed audit log.
func (s *Store) AuditLog() *auditmemory.InMemoryStore {
	return s.audit
}

func (s *Store) RunInTx(ctx context.Context, fn func(stores store.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := newTxView(s)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	return tx.commit(ctx)
}

// txView is the overlay seen by one transaction.
type txView struct {
	base     *Store
	profiles map[id.ProfileID]*domain.Profile
	consents map[id.ConsentID]*domain.Consent
	tokens   map[id.TokenID]*domain.Token
	events   []audit.Event
}

func newTxView(s *Store) *txView {
	return &txView{
		base:     s,
		profiles: make(map[id.ProfileID]*domain.Profile),
		consents: make(map[id.ConsentID]*domain.Consent),
		tokens:   make(map[id.TokenID]*domain.Token),
	}
}

func (t *txView) Profiles() store.ProfileStore { return profileView{t} }
func (t *txView) Consents() store.ConsentStore { return consentView{t} }
func (t *txView) Tokens() store.TokenStore     { return tokenView{t} }
func (t *txView) Audit() audit.Store           { return auditView{t} }

func (t *txView) commit(ctx context.Context) error {
	for k, v := range t.profiles {
		t.base.profiles[k] = v
	}
	for k, v := range t.consents {
		t.base.consents[k] = v
	}
	for k, v := range t.tokens {
		t.base.tokens[k] = v
	}
	for _, e := range t.events {
		if err := t.base.audit.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (t *txView) profile(profileID id.ProfileID) (*domain.Profile, bool) {
	if p, ok := t.profiles[profileID]; ok {
		return p, true
	}
	p, ok := t.base.profiles[profileID]
	return p, ok
}

func (t *txView) consent(consentID id.ConsentID) (*domain.Consent, bool) {
	if c, ok := t.consents[consentID]; ok {
		return c, true
	}
	c, ok := t.base.consents[consentID]
	return c, ok
}

func (t *txView) token(tokenID id.TokenID) (*domain.Token, bool) {
	if tok, ok := t.tokens[tokenID]; ok {
		return tok, true
	}
	tok, ok := t.base.tokens[tokenID]
	return tok, ok
}

func cloneProfile(p *domain.Profile) *domain.Profile {
	c := *p
	c.EvidenceRefs = slices.Clone(p.EvidenceRefs)
	return &c
}

func cloneConsent(c *domain.Consent) *domain.Consent {
	out := *c
	out.Scope = slices.Clone(c.Scope)
	if c.RevokedAt != nil {
		at := *c.RevokedAt
		out.RevokedAt = &at
	}
	return &out
}

func cloneToken(tok *domain.Token) *domain.Token {
	c := *tok
	return &c
}
