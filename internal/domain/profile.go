// Package domain holds the Profile, Consent and Token entities. Entities refer
// to each other by ID only; cross-entity lookups go through the store.
package domain

import (
	"time"

	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
)

// Profile identifies a data subject. It is immutable once created except for
// appending evidence references.
type Profile struct {
	ID            id.ProfileID
	CanonicalName string
	DOB           string // optional, as extracted
	AddressHash   string // optional, keyed digest of the normalized address
	EvidenceRefs  []string
	CreatedAt     time.Time
}

// NewProfile validates and builds a profile. addressHash must already be a
// digest; raw addresses never reach this type.
func NewProfile(profileID id.ProfileID, name, dob, addressHash string, evidenceRefs []string, now time.Time) (*Profile, error) {
	if profileID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInternal, "profile id required")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "canonical_name is required")
	}
	refs := make([]string, 0, len(evidenceRefs))
	for _, ref := range evidenceRefs {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return &Profile{
		ID:            profileID,
		CanonicalName: name,
		DOB:           dob,
		AddressHash:   addressHash,
		EvidenceRefs:  refs,
		CreatedAt:     now,
	}, nil
}

// HasAddress reports whether an address digest is on file.
func (p *Profile) HasAddress() bool {
	return p.AddressHash != ""
}
