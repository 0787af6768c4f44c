// Package domain holds identifier and value types shared across modules.
//
// Typed IDs stop a ConsentID from being passed where a TokenID is expected.
// Construct them with the Parse* functions at trust boundaries and with the
// New* functions when creating entities.
package domain

import (
	"github.com/google/uuid"

	dErrors "kycvault/pkg/domain-errors"
)

type (
	ProfileID uuid.UUID
	ConsentID uuid.UUID
	TokenID   uuid.UUID
	EventID   uuid.UUID
)

func NewProfileID() ProfileID { return ProfileID(uuid.New()) }
func NewConsentID() ConsentID { return ConsentID(uuid.New()) }
func NewTokenID() TokenID     { return TokenID(uuid.New()) }
func NewEventID() EventID     { return EventID(uuid.New()) }

func (id ProfileID) String() string { return uuid.UUID(id).String() }
func (id ConsentID) String() string { return uuid.UUID(id).String() }
func (id TokenID) String() string   { return uuid.UUID(id).String() }
func (id EventID) String() string   { return uuid.UUID(id).String() }

func (id ProfileID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TokenID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// ParseProfileID parses external input. Empty, malformed and nil UUIDs are
// rejected with CodeInvalidInput.
func ParseProfileID(s string) (ProfileID, error) {
	u, err := parseUUID(s, "profile_id")
	return ProfileID(u), err
}

// ParseConsentID parses external input; see ParseProfileID.
func ParseConsentID(s string) (ConsentID, error) {
	u, err := parseUUID(s, "consent_id")
	return ConsentID(u), err
}

// ParseTokenID parses external input; see ParseProfileID.
func ParseTokenID(s string) (TokenID, error) {
	u, err := parseUUID(s, "token_id")
	return TokenID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	return u, nil
}
