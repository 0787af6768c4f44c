// Package policy is the policy decision point for token resolution. Evaluate
// is a pure function: no I/O, no mutation, no retries.
package policy

import (
	"time"

	"kycvault/internal/domain"
)

// Reason is the decision reason code recorded in audit and returned on denial.
type Reason string

const (
	ReasonOK                Reason = "ok"
	ReasonTokenNotActive    Reason = "token_not_active"
	ReasonRecipientMismatch Reason = "recipient_mismatch"
	ReasonConsentRevoked    Reason = "consent_revoked"
	ReasonConsentExpired    Reason = "consent_expired"
)

// Decision is the PDP result.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Outcome is "allow" or "deny", as recorded in audit meta.
func (d Decision) Outcome() string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}

type predicate struct {
	denies func(tok *domain.Token, consent *domain.Consent, requester string, now time.Time) bool
	reason Reason
}

// chain order is observable through the reason code. Do not reorder.
var chain = []predicate{
	{
		reason: ReasonTokenNotActive,
		denies: func(tok *domain.Token, _ *domain.Consent, _ string, _ time.Time) bool {
			return !tok.IsActive()
		},
	},
	{
		reason: ReasonRecipientMismatch,
		denies: func(tok *domain.Token, _ *domain.Consent, requester string, _ time.Time) bool {
			return tok.Recipient != requester
		},
	},
	{
		reason: ReasonConsentRevoked,
		denies: func(_ *domain.Token, consent *domain.Consent, _ string, _ time.Time) bool {
			return consent.IsRevoked()
		},
	},
	{
		reason: ReasonConsentExpired,
		denies: func(_ *domain.Token, consent *domain.Consent, _ string, now time.Time) bool {
			return consent.IsExpired(now)
		},
	},
}

// Evaluate runs the predicate chain; the first failing predicate decides.
func Evaluate(tok *domain.Token, consent *domain.Consent, requester string, now time.Time) Decision {
	for _, p := range chain {
		if p.denies(tok, consent, requester, now) {
			return Decision{Allowed: false, Reason: p.reason}
		}
	}
	return Decision{Allowed: true, Reason: ReasonOK}
}
