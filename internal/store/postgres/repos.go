package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kycvault/internal/domain"
	id "kycvault/pkg/domain"
	auditpostgres "kycvault/pkg/platform/audit/store/postgres"
	"kycvault/pkg/platform/sentinel"
)

type profileRepo struct{ db auditpostgres.DBTX }

const insertProfileSQL = `INSERT INTO profiles (id, canonical_name, dob, address_hash, evidence_refs, created_at) VALUES ($1, $2, $3, $4, $5, $6)`

func (r *profileRepo) Create(ctx context.Context, p *domain.Profile) error {
	refs := p.EvidenceRefs
	if refs == nil {
		refs = []string{}
	}
	_, err := r.db.Exec(ctx, insertProfileSQL,
		uuid.UUID(p.ID), p.CanonicalName, nullIfEmpty(p.DOB), nullIfEmpty(p.AddressHash), refs, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert profile: %w", translate(err))
	}
	return nil
}

const selectProfileSQL = `SELECT id, canonical_name, COALESCE(dob, ''), COALESCE(address_hash, ''), evidence_refs, created_at FROM profiles WHERE id = $1`

func (r *profileRepo) FindByID(ctx context.Context, profileID id.ProfileID) (*domain.Profile, error) {
	rows, err := r.db.Query(ctx, selectProfileSQL, uuid.UUID(profileID))
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

const appendEvidenceSQL = `UPDATE profiles SET evidence_refs = array_append(evidence_refs, $2) WHERE id = $1`

func (r *profileRepo) AppendEvidence(ctx context.Context, profileID id.ProfileID, ref string) error {
	tag, err := r.db.Exec(ctx, appendEvidenceSQL, uuid.UUID(profileID), ref)
	if err != nil {
		return fmt.Errorf("append evidence: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.CollectableRow) (*domain.Profile, error) {
	var (
		p         domain.Profile
		profileID uuid.UUID
	)
	if err := row.Scan(&profileID, &p.CanonicalName, &p.DOB, &p.AddressHash, &p.EvidenceRefs, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = id.ProfileID(profileID)
	return &p, nil
}

type consentRepo struct{ db auditpostgres.DBTX }

const insertConsentSQL = `INSERT INTO consents (id, profile_id, granted_to, scope, purpose, granted_at, expires_at, revoked_at, consent_text) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (r *consentRepo) Create(ctx context.Context, c *domain.Consent) error {
	_, err := r.db.Exec(ctx, insertConsentSQL,
		uuid.UUID(c.ID), uuid.UUID(c.ProfileID), c.GrantedTo, scopeStrings(c.Scope), c.Purpose,
		c.GrantedAt, c.ExpiresAt, c.RevokedAt, c.ConsentText)
	if err != nil {
		return fmt.Errorf("insert consent: %w", translate(err))
	}
	return nil
}

const consentColumns = `SELECT id, profile_id, granted_to, scope, purpose, granted_at, expires_at, revoked_at, consent_text FROM consents`

func (r *consentRepo) FindByID(ctx context.Context, consentID id.ConsentID) (*domain.Consent, error) {
	rows, err := r.db.Query(ctx, consentColumns+` WHERE id = $1`, uuid.UUID(consentID))
	if err != nil {
		return nil, fmt.Errorf("query consent: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanConsent)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

func (r *consentRepo) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]*domain.Consent, error) {
	rows, err := r.db.Query(ctx, consentColumns+` WHERE profile_id = $1 ORDER BY granted_at`, uuid.UUID(profileID))
	if err != nil {
		return nil, fmt.Errorf("query consents: %w", err)
	}
	consents, err := pgx.CollectRows(rows, scanConsent)
	if err != nil {
		return nil, fmt.Errorf("scan consents: %w", err)
	}
	return consents, nil
}

// revokeConsentSQL keeps an existing revoked_at.
const revokeConsentSQL = `UPDATE consents SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`

func (r *consentRepo) Revoke(ctx context.Context, consentID id.ConsentID, at time.Time) error {
	tag, err := r.db.Exec(ctx, revokeConsentSQL, uuid.UUID(consentID), at)
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanConsent(row pgx.CollectableRow) (*domain.Consent, error) {
	var (
		c         domain.Consent
		consentID uuid.UUID
		profileID uuid.UUID
		scope     []string
	)
	if err := row.Scan(&consentID, &profileID, &c.GrantedTo, &scope, &c.Purpose, &c.GrantedAt, &c.ExpiresAt, &c.RevokedAt, &c.ConsentText); err != nil {
		return nil, err
	}
	c.ID = id.ConsentID(consentID)
	c.ProfileID = id.ProfileID(profileID)
	c.Scope = make([]id.ScopeAttribute, 0, len(scope))
	for _, s := range scope {
		c.Scope = append(c.Scope, id.ScopeAttribute(s))
	}
	return &c, nil
}

type tokenRepo struct{ db auditpostgres.DBTX }

const insertTokenSQL = `INSERT INTO tokens (id, profile_id, consent_id, recipient, issued_at, expires_at, signature, status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (r *tokenRepo) Create(ctx context.Context, tok *domain.Token) error {
	_, err := r.db.Exec(ctx, insertTokenSQL,
		uuid.UUID(tok.ID), uuid.UUID(tok.ProfileID), uuid.UUID(tok.ConsentID), tok.Recipient,
		tok.IssuedAt, tok.ExpiresAt, tok.Signature, string(tok.Status))
	if err != nil {
		return fmt.Errorf("insert token: %w", translate(err))
	}
	return nil
}

const tokenColumns = `SELECT id, profile_id, consent_id, recipient, issued_at, expires_at, signature, status FROM tokens`

func (r *tokenRepo) FindByID(ctx context.Context, tokenID id.TokenID) (*domain.Token, error) {
	rows, err := r.db.Query(ctx, tokenColumns+` WHERE id = $1`, uuid.UUID(tokenID))
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}
	tok, err := pgx.CollectExactlyOneRow(rows, scanToken)
	if err != nil {
		return nil, translate(err)
	}
	return tok, nil
}

func (r *tokenRepo) ListByConsent(ctx context.Context, consentID id.ConsentID) ([]*domain.Token, error) {
	rows, err := r.db.Query(ctx, tokenColumns+` WHERE consent_id = $1 ORDER BY issued_at`, uuid.UUID(consentID))
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, scanToken)
	if err != nil {
		return nil, fmt.Errorf("scan tokens: %w", err)
	}
	return tokens, nil
}

const revokeTokenSQL = `UPDATE tokens SET status = 'revoked' WHERE id = $1`

func (r *tokenRepo) Revoke(ctx context.Context, tokenID id.TokenID) error {
	tag, err := r.db.Exec(ctx, revokeTokenSQL, uuid.UUID(tokenID))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanToken(row pgx.CollectableRow) (*domain.Token, error) {
	var (
		tok       domain.Token
		tokenID   uuid.UUID
		profileID uuid.UUID
		consentID uuid.UUID
		status    string
	)
	if err := row.Scan(&tokenID, &profileID, &consentID, &tok.Recipient, &tok.IssuedAt, &tok.ExpiresAt, &tok.Signature, &status); err != nil {
		return nil, err
	}
	tok.ID = id.TokenID(tokenID)
	tok.ProfileID = id.ProfileID(profileID)
	tok.ConsentID = id.ConsentID(consentID)
	tok.Status = domain.TokenStatus(status)
	return &tok, nil
}

func scopeStrings(scope []id.ScopeAttribute) []string {
	out := make([]string, len(scope))
	for i, s := range scope {
		out[i] = string(s)
	}
	return out
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
