package audit

import (
	"maps"
	"time"

	id "kycvault/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// The outbox relay uses it to pick a topic.
type EventCategory string

const (
	// CategoryCompliance covers state changes with legal significance:
	// enrolment, consent grants and revocations, token revocation.
	CategoryCompliance EventCategory = "compliance"

	// CategoryAccess covers resolution attempts, allowed or denied.
	CategoryAccess EventCategory = "access"

	// CategoryOperations covers routine activity such as token issuance.
	CategoryOperations EventCategory = "operations"
)

// Action names what happened. Values are part of the external contract.
type Action string

const (
	ActionCreateProfile  Action = "create_profile"
	ActionAppendEvidence Action = "append_evidence"
	ActionCreateConsent  Action = "create_consent"
	ActionRevokeConsent  Action = "revoke_consent"
	ActionIssueToken     Action = "issue_token"
	ActionResolveToken   Action = "resolve_token"
	ActionRevokeToken    Action = "revoke_token"
)

// Well-known actors.
const (
	ActorSystem = "system"
	ActorIssuer = "issuer"
)

// Meta keys written by the services.
const (
	MetaDecision  = "decision"
	MetaReason    = "reason"
	MetaClientIP  = "client_ip"
	MetaUserAgent = "user_agent"
	MetaRequestID = "request_id"
	MetaProfileID = "profile_id"
	MetaConsentID = "consent_id"
)

var actionCategories = map[Action]EventCategory{
	ActionCreateProfile:  CategoryCompliance,
	ActionAppendEvidence: CategoryCompliance,
	ActionCreateConsent:  CategoryCompliance,
	ActionRevokeConsent:  CategoryCompliance,
	ActionRevokeToken:    CategoryCompliance,
	ActionResolveToken:   CategoryAccess,
	ActionIssueToken:     CategoryOperations,
}

// Category returns the EventCategory for this action.
// Unknown actions default to CategoryOperations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is an append-only record of a state change or access decision.
// Target is the id of the affected entity.
type Event struct {
	ID        id.EventID
	Actor     string
	Action    Action
	Target    string
	Timestamp time.Time
	Meta      map[string]string
}

// NewEvent builds an event with a fresh ID. Empty meta values are dropped.
func NewEvent(actor string, action Action, target string, ts time.Time, meta map[string]string) Event {
	m := make(map[string]string, len(meta))
	for k, v := range meta {
		if v != "" {
			m[k] = v
		}
	}
	return Event{
		ID:        id.NewEventID(),
		Actor:     actor,
		Action:    action,
		Target:    target,
		Timestamp: ts,
		Meta:      m,
	}
}

// Clone returns a copy whose Meta map is not shared.
func (e Event) Clone() Event {
	e.Meta = maps.Clone(e.Meta)
	return e
}

// Category is derived from the action.
func (e Event) Category() EventCategory {
	return e.Action.Category()
}
