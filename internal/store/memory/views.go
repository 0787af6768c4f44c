package memory

import (
	"context"
	"slices"
	"time"

	"kycvault/internal/domain"
	id "kycvault/pkg/domain"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/sentinel"
)

type profileView struct{ tx *txView }

func (v profileView) Create(_ context.Context, p *domain.Profile) error {
	if _, exists := v.tx.profile(p.ID); exists {
		return sentinel.ErrConflict
	}
	v.tx.profiles[p.ID] = cloneProfile(p)
	return nil
}

func (v profileView) FindByID(_ context.Context, profileID id.ProfileID) (*domain.Profile, error) {
	p, ok := v.tx.profile(profileID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (v profileView) AppendEvidence(_ context.Context, profileID id.ProfileID, ref string) error {
	p, ok := v.tx.profile(profileID)
	if !ok {
		return sentinel.ErrNotFound
	}
	updated := cloneProfile(p)
	updated.EvidenceRefs = append(updated.EvidenceRefs, ref)
	v.tx.profiles[profileID] = updated
	return nil
}

type consentView struct{ tx *txView }

func (v consentView) Create(_ context.Context, c *domain.Consent) error {
	if _, exists := v.tx.consent(c.ID); exists {
		return sentinel.ErrConflict
	}
	v.tx.consents[c.ID] = cloneConsent(c)
	return nil
}

func (v consentView) FindByID(_ context.Context, consentID id.ConsentID) (*domain.Consent, error) {
	c, ok := v.tx.consent(consentID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneConsent(c), nil
}

// ListByProfile returns consents ordered by grant time.
func (v consentView) ListByProfile(_ context.Context, profileID id.ProfileID) ([]*domain.Consent, error) {
	seen := make(map[id.ConsentID]struct{})
	var out []*domain.Consent
	collect := func(m map[id.ConsentID]*domain.Consent) {
		for cid, c := range m {
			if _, dup := seen[cid]; dup || c.ProfileID != profileID {
				continue
			}
			seen[cid] = struct{}{}
			out = append(out, cloneConsent(c))
		}
	}
	collect(v.tx.consents)
	collect(v.tx.base.consents)
	slices.SortFunc(out, func(a, b *domain.Consent) int {
		return a.GrantedAt.Compare(b.GrantedAt)
	})
	return out, nil
}

func (v consentView) Revoke(_ context.Context, consentID id.ConsentID, at time.Time) error {
	c, ok := v.tx.consent(consentID)
	if !ok {
		return sentinel.ErrNotFound
	}
	updated := cloneConsent(c)
	updated.Revoke(at)
	v.tx.consents[consentID] = updated
	return nil
}

type tokenView struct{ tx *txView }

func (v tokenView) Create(_ context.Context, tok *domain.Token) error {
	if _, exists := v.tx.token(tok.ID); exists {
		return sentinel.ErrConflict
	}
	v.tx.tokens[tok.ID] = cloneToken(tok)
	return nil
}

func (v tokenView) FindByID(_ context.Context, tokenID id.TokenID) (*domain.Token, error) {
	tok, ok := v.tx.token(tokenID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneToken(tok), nil
}

// ListByConsent returns tokens ordered by issue time.
func (v tokenView) ListByConsent(_ context.Context, consentID id.ConsentID) ([]*domain.Token, error) {
	seen := make(map[id.TokenID]struct{})
	var out []*domain.Token
	collect := func(m map[id.TokenID]*domain.Token) {
		for tid, tok := range m {
			if _, dup := seen[tid]; dup || tok.ConsentID != consentID {
				continue
			}
			seen[tid] = struct{}{}
			out = append(out, cloneToken(tok))
		}
	}
	collect(v.tx.tokens)
	collect(v.tx.base.tokens)
	slices.SortFunc(out, func(a, b *domain.Token) int {
		return a.IssuedAt.Compare(b.IssuedAt)
	})
	return out, nil
}

func (v tokenView) Revoke(_ context.Context, tokenID id.TokenID) error {
	tok, ok := v.tx.token(tokenID)
	if !ok {
		return sentinel.ErrNotFound
	}
	updated := cloneToken(tok)
	updated.Revoke()
	v.tx.tokens[tokenID] = updated
	return nil
}

type auditView struct{ tx *txView }

func (v auditView) Append(_ context.Context, event audit.Event) error {
	if event.ID.IsNil() {
		event.ID = id.NewEventID()
	}
	v.tx.events = append(v.tx.events, event.Clone())
	return nil
}

func (v auditView) ListByTarget(ctx context.Context, target string) ([]audit.Event, error) {
	out, err := v.tx.base.audit.ListByTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	for _, e := range v.tx.events {
		if e.Target == target {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}
