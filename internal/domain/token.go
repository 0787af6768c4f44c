package domain

import (
	"time"

	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
)

// TokenStatus is stored state. Expiry is not a status; it is evaluated from
// ExpiresAt at read time.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusRevoked TokenStatus = "revoked"
)

// Token is a bearer credential for one profile, consent and recipient.
type Token struct {
	ID        id.TokenID
	ProfileID id.ProfileID
	ConsentID id.ConsentID
	Recipient string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Signature string
	Status    TokenStatus
}

// NewToken builds an active token. The caller has already checked that the
// consent belongs to the profile.
func NewToken(tokenID id.TokenID, profileID id.ProfileID, consentID id.ConsentID, recipient string, issuedAt, expiresAt time.Time, signature string) (*Token, error) {
	if tokenID.IsNil() || profileID.IsNil() || consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInternal, "token, profile and consent ids required")
	}
	if recipient == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "recipient is required")
	}
	if !expiresAt.After(issuedAt) {
		return nil, dErrors.New(dErrors.CodeValidation, "expires_at must be after issued_at")
	}
	return &Token{
		ID:        tokenID,
		ProfileID: profileID,
		ConsentID: consentID,
		Recipient: recipient,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Signature: signature,
		Status:    TokenStatusActive,
	}, nil
}

func (t *Token) IsActive() bool {
	return t.Status == TokenStatusActive
}

// IsExpired reports whether ExpiresAt is strictly before now.
func (t *Token) IsExpired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Revoke moves the token to revoked. Revoking twice is a no-op.
func (t *Token) Revoke() {
	t.Status = TokenStatusRevoked
}
