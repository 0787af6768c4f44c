// Package store defines the entity store contract. Services touch entities
// only inside Tx.RunInTx; every write made by fn, audit appends included,
// commits together or not at all.
package store

import (
	"context"
	"time"

	"kycvault/internal/domain"
	id "kycvault/pkg/domain"
	audit "kycvault/pkg/platform/audit"
)

// DefaultTxTimeout bounds a transaction when the caller set no deadline.
const DefaultTxTimeout = 5 * time.Second

// Implementations return sentinel.ErrNotFound for missing rows and
// sentinel.ErrConflict for duplicate ids. Returned entities are copies.

type ProfileStore interface {
	Create(ctx context.Context, profile *domain.Profile) error
	FindByID(ctx context.Context, profileID id.ProfileID) (*domain.Profile, error)
	AppendEvidence(ctx context.Context, profileID id.ProfileID, ref string) error
}

type ConsentStore interface {
	Create(ctx context.Context, consent *domain.Consent) error
	FindByID(ctx context.Context, consentID id.ConsentID) (*domain.Consent, error)
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]*domain.Consent, error)
	// Revoke sets revoked_at if unset. An existing revocation is kept.
	Revoke(ctx context.Context, consentID id.ConsentID, at time.Time) error
}

type TokenStore interface {
	Create(ctx context.Context, token *domain.Token) error
	FindByID(ctx context.Context, tokenID id.TokenID) (*domain.Token, error)
	ListByConsent(ctx context.Context, consentID id.ConsentID) ([]*domain.Token, error)
	// Revoke sets status to revoked. Revoking a revoked token succeeds.
	Revoke(ctx context.Context, tokenID id.TokenID) error
}

// Stores is the transaction-scoped view handed to RunInTx callbacks.
type Stores interface {
	Profiles() ProfileStore
	Consents() ConsentStore
	Tokens() TokenStore
	Audit() audit.Store
}

// Tx provides the transactional boundary. Reads inside one RunInTx observe a
// single consistent snapshot; an error from fn rolls back every write.
type Tx interface {
	RunInTx(ctx context.Context, fn func(stores Stores) error) error
}
