package domain

import (
	"slices"
	"time"

	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
)

// Consent grants disclosure of a profile's scoped attributes to one recipient
// for a purpose and a bounded window.
type Consent struct {
	ID          id.ConsentID
	ProfileID   id.ProfileID
	GrantedTo   string
	Scope       []id.ScopeAttribute
	Purpose     string
	GrantedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	ConsentText string
}

// NewConsent validates and builds a consent. ExpiresAt must be strictly after
// GrantedAt.
func NewConsent(consentID id.ConsentID, profileID id.ProfileID, grantedTo string, scope []id.ScopeAttribute, purpose, text string, grantedAt, expiresAt time.Time) (*Consent, error) {
	if consentID.IsNil() || profileID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInternal, "consent and profile ids required")
	}
	if grantedTo == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "granted_to is required")
	}
	if len(scope) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "scope must not be empty")
	}
	if !expiresAt.After(grantedAt) {
		return nil, dErrors.New(dErrors.CodeValidation, "expires_at must be after granted_at")
	}
	return &Consent{
		ID:          consentID,
		ProfileID:   profileID,
		GrantedTo:   grantedTo,
		Scope:       slices.Clone(scope),
		Purpose:     purpose,
		GrantedAt:   grantedAt,
		ExpiresAt:   expiresAt,
		ConsentText: text,
	}, nil
}

// IsRevoked reports whether revocation was ever recorded.
func (c *Consent) IsRevoked() bool {
	return c.RevokedAt != nil
}

// IsExpired reports whether the window closed strictly before now.
func (c *Consent) IsExpired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// IsActive is derived at evaluation time, never stored.
func (c *Consent) IsActive(now time.Time) bool {
	return !c.IsRevoked() && c.ExpiresAt.After(now)
}

// Allows reports whether attr is within scope.
func (c *Consent) Allows(attr id.ScopeAttribute) bool {
	return slices.Contains(c.Scope, attr)
}

// Revoke records the first revocation time. Later calls keep the original
// timestamp; there is no un-revoke.
func (c *Consent) Revoke(at time.Time) {
	if c.RevokedAt != nil {
		return
	}
	c.RevokedAt = &at
}
