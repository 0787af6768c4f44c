package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	Upload(path, filename string, data []byte) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetAdminToken() string
	Set(key, value string)
	Get(key string) string
}

// RegisterSteps registers profile, consent, token and resolution steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &resolveSteps{tc: tc}

	ctx.Step(`^a profile for "([^"]*)" born "([^"]*)" living at "([^"]*)"$`, steps.createProfile)
	ctx.Step(`^I enrol the document:$`, steps.enrolDocument)
	ctx.Step(`^the profile grants "([^"]*)" access to "([^"]*)" for (\d+) days$`, steps.grantConsent)
	ctx.Step(`^a token is issued to "([^"]*)"$`, steps.issueToken)
	ctx.Step(`^a token is issued to "([^"]*)" for (\d+) hours?$`, steps.issueTokenWithTTL)
	ctx.Step(`^"([^"]*)" resolves the token$`, steps.resolveToken)
	ctx.Step(`^the consent is revoked$`, steps.revokeConsent)
	ctx.Step(`^the token is revoked$`, steps.revokeToken)
	ctx.Step(`^the token signature is verified$`, steps.verifySignature)
	ctx.Step(`^I list audit events for the token$`, steps.listAuditForToken)
	ctx.Step(`^the audit log should contain (\d+) "([^"]*)" events?$`, steps.auditShouldContain)
}

type resolveSteps struct {
	tc TestContext
}

func (s *resolveSteps) capture(field, key string, status int) error {
	if got := s.tc.GetLastResponseStatus(); got != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, got, s.tc.GetLastResponseBody())
	}
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Set(key, fmt.Sprint(v))
	return nil
}

func (s *resolveSteps) createProfile(_ context.Context, name, dob, address string) error {
	if err := s.tc.POST("/profiles", map[string]any{
		"canonical_name": name,
		"dob":            dob,
		"address":        address,
	}); err != nil {
		return err
	}
	return s.capture("profile_id", "profile_id", 201)
}

func (s *resolveSteps) enrolDocument(_ context.Context, doc *godog.DocString) error {
	if err := s.tc.Upload("/enrolments", "document.txt", []byte(doc.Content)); err != nil {
		return err
	}
	return s.capture("profile_id", "profile_id", 201)
}

func (s *resolveSteps) grantConsent(_ context.Context, recipient, scope string, days int) error {
	if err := s.tc.POST("/consents", map[string]any{
		"profile_id":    s.tc.Get("profile_id"),
		"granted_to":    recipient,
		"scope":         strings.Split(scope, ","),
		"duration_days": days,
	}); err != nil {
		return err
	}
	return s.capture("consent_id", "consent_id", 201)
}

func (s *resolveSteps) issueToken(ctx context.Context, recipient string) error {
	return s.issueTokenWithTTL(ctx, recipient, 0)
}

func (s *resolveSteps) issueTokenWithTTL(_ context.Context, recipient string, hours int) error {
	body := map[string]any{
		"profile_id": s.tc.Get("profile_id"),
		"consent_id": s.tc.Get("consent_id"),
		"recipient":  recipient,
	}
	if hours > 0 {
		body["ttl_hours"] = hours
	}
	if err := s.tc.POST("/tokens", body); err != nil {
		return err
	}
	if err := s.capture("signature", "signature", 201); err != nil {
		return err
	}
	return s.capture("token_id", "token_id", 201)
}

func (s *resolveSteps) resolveToken(_ context.Context, requester string) error {
	return s.tc.GET("/resolve/"+s.tc.Get("token_id")+"?requester="+requester, nil)
}

func (s *resolveSteps) revokeConsent(context.Context) error {
	return s.tc.POST("/consents/"+s.tc.Get("consent_id")+"/revoke", map[string]any{})
}

func (s *resolveSteps) revokeToken(context.Context) error {
	return s.tc.POST("/tokens/"+s.tc.Get("token_id")+"/revoke", map[string]any{})
}

func (s *resolveSteps) verifySignature(context.Context) error {
	return s.tc.POST("/tokens/verify", map[string]any{"signature": s.tc.Get("signature")})
}

func (s *resolveSteps) listAuditForToken(context.Context) error {
	return s.tc.GET("/admin/audit?target="+s.tc.Get("token_id"), map[string]string{
		"X-Admin-Token": s.tc.GetAdminToken(),
	})
}

func (s *resolveSteps) auditShouldContain(_ context.Context, count int, action string) error {
	raw, err := s.tc.GetResponseField("events")
	if err != nil {
		return err
	}
	events, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("events is not a list: %s", s.tc.GetLastResponseBody())
	}
	got := 0
	for _, e := range events {
		if m, ok := e.(map[string]any); ok && m["action"] == action {
			got++
		}
	}
	if got != count {
		return fmt.Errorf("expected %d %q events, got %d", count, action, got)
	}
	return nil
}
