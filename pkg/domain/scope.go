package domain

import (
	"strings"

	dErrors "kycvault/pkg/domain-errors"
	strs "kycvault/pkg/platform/strings"
)

// ScopeAttribute names a profile attribute a consent may disclose.
// profile_id and canonical_name are always disclosed and are not scope members.
type ScopeAttribute string

const (
	ScopeAddress ScopeAttribute = "address"
	ScopeDOB     ScopeAttribute = "dob"
)

var validScopeAttributes = map[ScopeAttribute]bool{
	ScopeAddress: true,
	ScopeDOB:     true,
}

// IsValid reports whether the attribute is a supported scope member.
func (a ScopeAttribute) IsValid() bool {
	return validScopeAttributes[a]
}

func (a ScopeAttribute) String() string {
	return string(a)
}

// ParseScope normalizes requested attribute names: trimmed, lowercased,
// deduplicated with first-seen order kept. Unknown names and an empty result
// fail with CodeInvalidInput.
func ParseScope(values []string) ([]ScopeAttribute, error) {
	names := strs.DedupeAndTrim(values, strings.ToLower)
	if len(names) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "scope must not be empty")
	}
	scope := make([]ScopeAttribute, 0, len(names))
	for _, name := range names {
		attr := ScopeAttribute(name)
		if !attr.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported scope attribute: "+name)
		}
		scope = append(scope, attr)
	}
	return scope, nil
}
