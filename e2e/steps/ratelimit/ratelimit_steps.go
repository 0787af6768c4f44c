package ratelimit

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	GetLastResponseStatus() int
	GetLastResponseHeader(key string) string
}

// RegisterSteps registers rate-limiting step definitions for the resolve endpoint
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^"([^"]*)" resolves an unknown token (\d+) times$`, steps.resolveUnknownNTimes)
	ctx.Step(`^at least one response should be rate limited$`, steps.someResponseRateLimited)
	ctx.Step(`^the rate limit headers should be present$`, steps.rateLimitHeadersPresent)
}

type ratelimitSteps struct {
	tc       TestContext
	statuses []int
}

const unknownToken = "0b8e7b2e-9a55-4d8f-9a43-3c3e1f1f6f00"

func (s *ratelimitSteps) resolveUnknownNTimes(_ context.Context, requester string, n int) error {
	s.statuses = s.statuses[:0]
	for range n {
		if err := s.tc.GET("/resolve/"+unknownToken+"?requester="+requester, nil); err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *ratelimitSteps) someResponseRateLimited(context.Context) error {
	for _, status := range s.statuses {
		if status == 429 {
			return nil
		}
	}
	return fmt.Errorf("no 429 among %v", s.statuses)
}

func (s *ratelimitSteps) rateLimitHeadersPresent(context.Context) error {
	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if s.tc.GetLastResponseHeader(h) == "" {
			return fmt.Errorf("missing header %s", h)
		}
	}
	return nil
}
