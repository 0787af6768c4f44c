package e2e

import (
	"github.com/cucumber/godog"

	"kycvault/e2e/steps/common"
	"kycvault/e2e/steps/ratelimit"
	"kycvault/e2e/steps/resolve"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	resolve.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
